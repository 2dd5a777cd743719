// Package client implements the observer side of the tracker: it keeps a
// websocket to the server, maintains the set of watched routes and drives a
// map overlay from the frames the relay pushes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/overlay"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"

	"github.com/gorilla/websocket"
)

const defaultReconnectDelay = 2 * time.Second

var errNotConnected = errors.New("client: not connected")

type control struct {
	Action  string `json:"action"`
	RouteID string `json:"routeId"`
}

type serverFrame struct {
	Event         string      `json:"event"`
	RouteID       string      `json:"routeId"`
	Position      *[2]float64 `json:"position"`
	StartPosition *[2]float64 `json:"startPosition"`
	EndPosition   *[2]float64 `json:"endPosition"`
	LastPosition  *[2]float64 `json:"lastPosition"`
	Finished      bool        `json:"finished"`
	Message       string      `json:"message"`
}

type Client struct {
	url            string
	token          string
	coordinator    *overlay.Coordinator
	logger         *logging.Logger
	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	mu      sync.Mutex
	desired map[string]struct{}
	conn    *websocket.Conn
}

type Options struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL        string
	Token          string
	Coordinator    *overlay.Coordinator
	Logger         *logging.Logger
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
}

func New(opts Options) *Client {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Client{
		url:            observerURL(opts.BaseURL),
		token:          opts.Token,
		coordinator:    opts.Coordinator,
		logger:         opts.Logger,
		dialer:         dialer,
		reconnectDelay: delay,
		desired:        make(map[string]struct{}),
	}
}

func observerURL(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		baseURL = "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		baseURL = "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL + "/ws/observer"
}

// Watch adds a route to the desired set and, when connected, asks the server
// to start streaming it. The watch survives reconnects.
func (c *Client) Watch(routeID string) error {
	if routeID == "" {
		return errors.New("client: routeID is required")
	}

	c.mu.Lock()
	c.desired[routeID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, control{Action: "start", RouteID: routeID})
}

// Unwatch removes a route from the desired set and drops its overlay.
func (c *Client) Unwatch(routeID string) error {
	c.mu.Lock()
	delete(c.desired, routeID)
	conn := c.conn
	c.mu.Unlock()

	if c.coordinator != nil {
		c.coordinator.Discard(routeID)
	}
	if conn == nil {
		return nil
	}
	return c.send(conn, control{Action: "stop", RouteID: routeID})
}

// Watching lists the desired routes.
func (c *Client) Watching() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	routes := make([]string, 0, len(c.desired))
	for routeID := range c.desired {
		routes = append(routes, routeID)
	}
	return routes
}

// Run connects and processes frames until the context is cancelled,
// reconnecting after connection loss. Every reconnect clears the overlays
// first and then resubscribes the desired routes, so stale markers never
// survive a gap in the stream.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.runOnce(ctx); err != nil && c.logger != nil {
			c.logger.Warn("observer connection lost", map[string]string{
				"error": err.Error(),
			})
		}

		c.clearOverlays()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("client: dialing %s: %w", c.url, err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	resubscribe := make([]string, 0, len(c.desired))
	for routeID := range c.desired {
		resubscribe = append(resubscribe, routeID)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	for _, routeID := range resubscribe {
		if err := c.send(conn, control{Action: "start", RouteID: routeID}); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	// Frames are applied here, on a single goroutine, so overlay updates
	// happen in the order the relay emitted them.
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("client: reading frame: %w", err)
		}
		var frame serverFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			if c.logger != nil {
				c.logger.Warn("dropping unparseable frame", map[string]string{
					"error": err.Error(),
				})
			}
			continue
		}
		c.apply(frame)
	}
}

func (c *Client) apply(frame serverFrame) {
	switch frame.Event {
	case "subscribed":
		c.applySubscribed(frame)
	case "new-position":
		if c.coordinator != nil && frame.Position != nil {
			c.coordinator.Move(frame.RouteID, pairPosition(*frame.Position))
		}
	case "finished":
		if c.coordinator != nil {
			c.coordinator.Remove(frame.RouteID)
		}
		c.mu.Lock()
		delete(c.desired, frame.RouteID)
		c.mu.Unlock()
	case "unsubscribed":
		if c.coordinator != nil {
			c.coordinator.Discard(frame.RouteID)
		}
	case "error":
		if c.logger != nil {
			c.logger.Warn("server rejected control message", map[string]string{
				"route_id": frame.RouteID,
				"message":  frame.Message,
			})
		}
	}
}

func (c *Client) applySubscribed(frame serverFrame) {
	if c.coordinator == nil || frame.StartPosition == nil || frame.EndPosition == nil {
		return
	}
	err := c.coordinator.Create(frame.RouteID, pairPosition(*frame.StartPosition), pairPosition(*frame.EndPosition))
	if err != nil && !errors.Is(err, overlay.ErrOverlayExists) {
		if c.logger != nil {
			c.logger.Warn("creating overlay failed", map[string]string{
				"route_id": frame.RouteID,
				"error":    err.Error(),
			})
		}
		return
	}
	if frame.LastPosition != nil {
		c.coordinator.Move(frame.RouteID, pairPosition(*frame.LastPosition))
	}
}

func (c *Client) clearOverlays() {
	if c.coordinator == nil {
		return
	}
	c.mu.Lock()
	routes := make([]string, 0, len(c.desired))
	for routeID := range c.desired {
		routes = append(routes, routeID)
	}
	c.mu.Unlock()
	for _, routeID := range routes {
		c.coordinator.Discard(routeID)
	}
}

func (c *Client) send(conn *websocket.Conn, message control) error {
	if conn == nil {
		return errNotConnected
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("client: encoding control: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func pairPosition(pair [2]float64) tracking.Position {
	return tracking.Position{Lat: pair[0], Lng: pair[1]}
}

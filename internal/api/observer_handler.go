package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/subscription"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const observerOutboundBuffer = 256

// ObserverHandler serves the observer websocket. Each connection gets its own
// subscription manager; control messages start and stop route watches and the
// relay pushes position frames back over the same connection.
type ObserverHandler struct {
	Registry       *tracking.Registry
	Relay          *tracking.Relay
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type observerControl struct {
	Action  string `json:"action"`
	RouteID string `json:"routeId"`
}

type observerFrame struct {
	Event         string      `json:"event"`
	RouteID       string      `json:"routeId,omitempty"`
	Position      *[2]float64 `json:"position,omitempty"`
	StartPosition *[2]float64 `json:"startPosition,omitempty"`
	EndPosition   *[2]float64 `json:"endPosition,omitempty"`
	LastPosition  *[2]float64 `json:"lastPosition,omitempty"`
	Finished      bool        `json:"finished,omitempty"`
	Message       string      `json:"message,omitempty"`
}

func positionPair(p tracking.Position) *[2]float64 {
	return &[2]float64{p.Lat, p.Lng}
}

// frameReceiver forwards relay deliveries onto the connection's outbound
// queue. Sends block until the write loop drains them, which keeps frames in
// publish order; done unblocks them when the connection goes away.
type frameReceiver struct {
	out  chan observerFrame
	done chan struct{}
}

func (rcv *frameReceiver) push(frame observerFrame) {
	select {
	case rcv.out <- frame:
	case <-rcv.done:
	}
}

func (rcv *frameReceiver) Apply(update tracking.Update) {
	rcv.push(observerFrame{
		Event:    "new-position",
		RouteID:  update.RouteID,
		Position: positionPair(update.Position),
		Finished: update.Finished,
	})
}

func (rcv *frameReceiver) Finish(routeID string) {
	rcv.push(observerFrame{Event: "finished", RouteID: routeID})
}

func (h *ObserverHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	receiver := &frameReceiver{
		out:  make(chan observerFrame, observerOutboundBuffer),
		done: done,
	}

	manager := subscription.NewManager(subscription.ManagerOptions{
		ObserverID: uuid.NewString(),
		Registry:   h.Registry,
		Relay:      h.Relay,
		Receiver:   receiver,
		Logger:     h.Logger,
	})
	defer manager.OnDisconnect()
	defer close(done)

	if h.Logger != nil {
		h.Logger.Debug("observer connected", map[string]string{
			"observer_id": manager.ObserverID(),
			"remote_addr": r.RemoteAddr,
		})
	}

	go func() {
		for {
			select {
			case frame := <-receiver.out:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var control observerControl
		if err := json.Unmarshal(msg, &control); err != nil {
			receiver.push(observerFrame{Event: "error", Message: "invalid control message"})
			continue
		}
		h.handleControl(r, manager, receiver, control)
	}
}

func (h *ObserverHandler) handleControl(r *http.Request, manager *subscription.Manager, receiver *frameReceiver, control observerControl) {
	if control.RouteID == "" {
		receiver.push(observerFrame{Event: "error", Message: "routeId is required"})
		return
	}

	switch control.Action {
	case "start":
		info, err := manager.StartWatching(r.Context(), control.RouteID)
		if err != nil {
			receiver.push(observerFrame{
				Event:   "error",
				RouteID: control.RouteID,
				Message: startErrorMessage(err),
			})
			return
		}
		frame := observerFrame{
			Event:         "subscribed",
			RouteID:       control.RouteID,
			StartPosition: positionPair(info.Endpoints.Start),
			EndPosition:   positionPair(info.Endpoints.End),
		}
		if info.Last != nil {
			frame.LastPosition = positionPair(*info.Last)
		}
		receiver.push(frame)
	case "stop":
		manager.StopWatching(control.RouteID)
		receiver.push(observerFrame{Event: "unsubscribed", RouteID: control.RouteID})
	default:
		receiver.push(observerFrame{Event: "error", Message: "unknown action"})
	}
}

func startErrorMessage(err error) string {
	switch {
	case errors.Is(err, subscription.ErrAlreadyWatching):
		return "already watching route"
	case errors.Is(err, tracking.ErrUnknownRoute):
		return "unknown route"
	case errors.Is(err, tracking.ErrSessionFinished):
		return "route already finished"
	case errors.Is(err, subscription.ErrDetached):
		return "connection detached"
	default:
		return "starting watch failed"
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"

	"github.com/gorilla/websocket"
)

// LogsHandler streams the in-memory log buffer and live entries over a
// websocket. Clients may send {"level":"warning"} messages to raise or reset
// the minimum streamed level.
type LogsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type logFilterMessage struct {
	Level string `json:"level"`
}

type levelFilter struct {
	mu    sync.RWMutex
	level logging.Level
}

func (f *levelFilter) Get() logging.Level {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

func (f *levelFilter) Set(level logging.Level) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}
	if h.Logger == nil {
		writeWSError(w, r, nil, nil, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "log stream unavailable",
		})
		return
	}

	filter := &levelFilter{}
	if rawLevel := r.URL.Query().Get("level"); rawLevel != "" {
		if level, ok := logging.ParseLevel(rawLevel); ok {
			filter.Set(level)
		}
	}

	output, cancel := h.Logger.Subscribe()
	defer cancel()

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

	if err := writeLogSnapshot(conn, h.Logger.Buffer(), filter.Get()); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case entry, ok := <-output:
				if !ok {
					return
				}
				minLevel := filter.Get()
				if minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(entry); err != nil {
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
		var payload logFilterMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		level, ok := logging.ParseLevel(payload.Level)
		if !ok {
			filter.Set("")
			continue
		}
		filter.Set(level)
	}
}

func writeLogSnapshot(conn *websocket.Conn, buffer *logging.Buffer, minLevel logging.Level) error {
	if buffer == nil {
		return nil
	}
	for _, entry := range buffer.List() {
		if minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(entry); err != nil {
			return err
		}
	}
	return nil
}

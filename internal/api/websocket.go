package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/growthdesk/internal/app"
	"github.com/ashureev/growthdesk/internal/identity"
)

const streamWriteTimeout = 10 * time.Second

// StateSocket pushes a device's state to the browser on every change.
type StateSocket struct {
	controllers   *Controllers
	streams       *StreamManager
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewStateSocket creates a new state websocket handler.
func NewStateSocket(controllers *Controllers, streams *StreamManager, allowedOrigin string, isDev bool, logger *slog.Logger) *StateSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateSocket{
		controllers:   controllers,
		streams:       streams,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger.With("component", "state_stream"),
	}
}

// streamMessage is the websocket frame in both directions.
type streamMessage struct {
	Type  string         `json:"type"`
	State *stateResponse `json:"state,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *StateSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	h.streams.Register(deviceID, sessionID, ws)
	defer h.streams.Unregister(deviceID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := h.controllers.Get(deviceID)

	// Only the newest state matters; older undelivered ones are dropped.
	updates := make(chan app.State, 1)
	push := func(s app.State) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	unsubscribe := c.Subscribe(push)
	defer unsubscribe()
	push(c.Snapshot())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, deviceID)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, updates, deviceID)
	}()

	wg.Wait()
	h.logger.Debug("State stream ended", "device_id", deviceID, "session_id", sessionID)
}

func (h *StateSocket) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *StateSocket) readLoop(ctx context.Context, ws *websocket.Conn, deviceID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed", "device_id", deviceID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}
		h.controllers.Touch(deviceID)

		var msg streamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, streamMessage{Type: "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func (h *StateSocket) writeLoop(ctx context.Context, ws *websocket.Conn, updates <-chan app.State, deviceID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-updates:
			resp := newStateResponse(s)
			if err := writeJSON(ctx, ws, streamMessage{Type: "state", State: &resp}); err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err, "device_id", deviceID)
				}
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

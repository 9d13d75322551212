package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

// writeTimeout bounds a single frame write to a slow client.
const writeTimeout = 5 * time.Second

// WebSocketOption configures a WebSocketHandler.
type WebSocketOption func(*WebSocketHandler)

// WithOriginPatterns allows cross-origin clients whose host matches one of patterns.
func WithOriginPatterns(patterns ...string) WebSocketOption {
	return func(h *WebSocketHandler) { h.accept.OriginPatterns = patterns }
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(l *slog.Logger) WebSocketOption {
	return func(h *WebSocketHandler) { h.logger = l }
}

// WebSocketHandler streams bus events to websocket clients as JSON text
// frames. Clients may pass ?types=tool_executed,tool_failed to filter.
type WebSocketHandler struct {
	bus    *Bus
	logger *slog.Logger
	accept websocket.AcceptOptions
}

// NewWebSocketHandler returns an http.Handler serving bus events.
func NewWebSocketHandler(bus *Bus, opts ...WebSocketOption) *WebSocketHandler {
	h := &WebSocketHandler{bus: bus, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds := parseTypes(r.URL.Query().Get("types"))

	conn, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sub := h.bus.Subscribe(kinds...)
	defer sub.Close()

	// Inbound frames are not expected; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	h.logger.Debug("event stream opened", "remote", r.RemoteAddr, "types", kinds)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event bus closed")
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Warn("dropping unencodable event", "type", e.Type, "error", err)
				continue
			}
			if err := writeFrame(ctx, conn, data); err != nil {
				h.logger.Debug("event stream closed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func parseTypes(s string) []EventType {
	var kinds []EventType
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			kinds = append(kinds, EventType(part))
		}
	}
	return kinds
}

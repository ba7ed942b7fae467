package http

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	apierrors "prolicense/internal/errors"
	"prolicense/internal/infrastructure"
	"prolicense/internal/license"
	"prolicense/internal/middleware"
	ws "prolicense/internal/websocket"
	"prolicense/pkg/contracts/events"
)

// EventsHandler streams license status over a websocket. Every gate reload
// is pushed to connected clients as a license:status message.
type EventsHandler struct {
	hub      *ws.Hub
	gate     *license.Gate
	errors   *apierrors.ErrorHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates the handler and subscribes it to gate reloads.
// The hub must be built with StatusGreeting(gate) so new clients start with
// the current status.
func NewEventsHandler(hub *ws.Hub, gate *license.Gate, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	h := &EventsHandler{
		hub:    hub,
		gate:   gate,
		errors: errorHandler,
		logger: logger.With(slog.String("handler", "events")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	gate.OnReload(func(*license.Snapshot) {
		hub.Broadcast(statusMessage(gate))
	})
	return h
}

// StatusGreeting returns a hub greeting carrying the current status of gate
func StatusGreeting(gate *license.Gate) func() *events.WebSocketMessage {
	return func() *events.WebSocketMessage { return statusMessage(gate) }
}

func statusMessage(gate *license.Gate) *events.WebSocketMessage {
	return ws.NewMessage(events.MessageTypeLicenseStatus, StatusEvent{
		State:       gate.State(),
		License:     gate.Info(),
		Degradation: gate.DegradationStatus(),
		Available:   gate.ListAvailable(),
	})
}

// StatusEvent is the payload of a license:status message
type StatusEvent struct {
	State       license.State             `json:"state"`
	License     *license.Info             `json:"license,omitempty"`
	Degradation license.DegradationStatus `json:"degradation"`
	Available   []string                  `json:"available"`
}

// checkOrigin accepts same-host and loopback pages only
func (h *EventsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ServeHTTP handles GET /api/license/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.hub.Done():
		h.errors.HandleError(w, r, apierrors.ErrServiceUnavailable)
		return
	default:
	}

	reqID := middleware.GetRequestID(r.Context())
	ctx := infrastructure.WithTraceID(r.Context(), reqID)

	if !h.checkOrigin(r) {
		h.logger.WarnContext(ctx, "websocket origin rejected",
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("host", r.Host))
		h.errors.HandleError(w, r, apierrors.New(http.StatusForbidden, "ORIGIN_NOT_ALLOWED", "Origin not allowed"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	client := ws.Serve(h.hub, ws.NewConnection(conn), h.logger)
	h.logger.InfoContext(ctx, "websocket client connected",
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", r.RemoteAddr))
}

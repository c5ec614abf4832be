package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tripresence/internal/auth"
	"tripresence/internal/registry"
)

// Handler upgrades incoming connections, binds their identity, and
// runs the pumps.
type Handler struct {
	hub      *Hub
	registry *registry.Registry
	binder   *auth.Binder
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint handler. checkOrigin nil
// accepts all origins (origin policy is enforced by the deployment's
// CORS configuration).
func NewHandler(hub *Hub, reg *registry.Registry, binder *auth.Binder, opts Options, logger *slog.Logger, checkOrigin func(r *http.Request) bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:      hub,
		registry: reg,
		binder:   binder,
		opts:     opts,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP authenticates the connection exactly once, before any
// trip-scoped event is accepted, then hands it to the hub.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.binder.Bind(r.Context(), credentialFromRequest(r))
	if err != nil {
		h.logger.Warn("connection refused", "err", err)
		writeAuthError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := NewClient(uuid.NewString(), identity, conn, h.hub, h.registry, h.opts, h.logger)
	h.hub.Register(client)
	go client.Run()
}

// credentialFromRequest pulls the bearer credential from the token
// query parameter or the Authorization header.
func credentialFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

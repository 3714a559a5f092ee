package broadcaster

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades subscriber handshakes: GET ?walletId=...&token=...
// The token may also be sent as an Authorization bearer token.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	upgrader websocket.Upgrader
	origins  []string
	logger   *zap.Logger
}

// NewHandler creates a websocket handler. A nil authenticator accepts
// every handshake.
func NewHandler(hub *Hub, auth Authenticator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = NoopAuthenticator{}
	}
	h := &Handler{
		hub:    hub,
		auth:   auth,
		logger: logger.With(zap.String("component", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// WithAllowedOrigins restricts browser handshakes to the given origins.
// "*" allows any origin; an empty list keeps every origin allowed.
func (h *Handler) WithAllowedOrigins(origins []string) *Handler {
	h.origins = origins
	return h
}

// checkOrigin accepts handshakes without an Origin header (non-browser
// clients) and browser handshakes from an allowed origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 || slices.Contains(h.origins, "*") {
		return true
	}
	if slices.Contains(h.origins, origin) {
		return true
	}
	h.logger.Debug("handshake origin rejected", zap.String("origin", origin))
	return false
}

// ServeHTTP handles the websocket handshake
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	walletID := r.URL.Query().Get("walletId")
	if walletID == "" {
		http.Error(w, "walletId is required", http.StatusBadRequest)
		return
	}

	if err := h.auth.Authenticate(requestToken(r), walletID); err != nil {
		h.logger.Debug("handshake rejected", zap.String("wallet_id", walletID), zap.Error(err))
		if errors.Is(err, ErrUnauthorized) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		} else {
			http.Error(w, "authentication failed", http.StatusInternalServerError)
		}
		return
	}

	if h.hub.Full() {
		http.Error(w, ErrTooManyClients.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h.hub, conn, walletID, h.logger)
	if err := h.hub.Register(r.Context(), client); err != nil {
		h.logger.Warn("failed to register subscriber", zap.String("wallet_id", walletID), zap.Error(err))
		closeCode := websocket.CloseInternalServerErr
		if errors.Is(err, ErrTooManyClients) {
			closeCode = websocket.CloseTryAgainLater
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, err.Error()))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

type WebSocketHandler struct {
	logger           *slog.Logger
	websocketManager *Manager
}

func NewWebSocketHandler(logger *slog.Logger, websocketManager *Manager) *WebSocketHandler {
	return &WebSocketHandler{
		logger:           logger,
		websocketManager: websocketManager,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/facilitator", h.HandleConnection).Methods("GET")
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameter: merchant_id")
		return
	}

	conn, err := h.websocketManager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.logger.Info("New WebSocket connection", "merchant_id", merchantID)
	h.websocketManager.Serve(conn, merchantID)
	h.logger.Info("WebSocket connection finished", "merchant_id", merchantID)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
)

// maxBodyBytes caps request bodies; a batch of QR payloads fits comfortably.
const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	logger             *slog.Logger
	orderService       OrderService
	batchService       BatchService
	visibilityService  VisibilityService
	facilitatorService FacilitatorService
	health             HealthChecker
}

func NewHTTPHandler(
	logger *slog.Logger,
	orderService OrderService,
	batchService BatchService,
	visibilityService VisibilityService,
	facilitatorService FacilitatorService,
	health HealthChecker,
) *HTTPHandler {
	return &HTTPHandler{
		logger:             logger,
		orderService:       orderService,
		batchService:       batchService,
		visibilityService:  visibilityService,
		facilitatorService: facilitatorService,
		health:             health,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Orders. /orders/user must be registered before /orders/{orderId}.
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders/user", h.GetUserOrders).Methods("GET")
	router.HandleFunc("/orders/{orderId}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{orderId}/accept", h.AcceptOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId}/fiat-sent", h.MarkFiatSent).Methods("POST")
	router.HandleFunc("/orders/{orderId}/zec-received", h.MarkZecReceived).Methods("POST")
	router.HandleFunc("/orders/{orderId}/cancel", h.CancelOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId}/fail", h.MarkOrderFailed).Methods("POST")

	// Batches and merchant groups
	router.HandleFunc("/batches", h.CreateBatchOrder).Methods("POST")
	router.HandleFunc("/batches/{batchId}", h.GetBatchOrder).Methods("GET")
	router.HandleFunc("/groups/{groupId}", h.GetGroupedOrders).Methods("GET")
	router.HandleFunc("/groups/{groupId}/accept", h.AcceptGroup).Methods("POST")

	// Facilitator views
	router.HandleFunc("/merchant/orders/pending", h.ListPendingOrders).Methods("GET")
	router.HandleFunc("/merchant/groups/pending", h.ListPendingGroups).Methods("GET")
	router.HandleFunc("/merchant/orders/active", h.ListActiveOrders).Methods("GET")
	router.HandleFunc("/merchant/orders/completed", h.ListCompletedOrders).Methods("GET")
	router.HandleFunc("/facilitators", h.RegisterFacilitator).Methods("POST")

	router.HandleFunc("/healthz", h.Health).Methods("GET")
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var input usecases.CreateOrderInput
	if !h.decode(w, r, &input) {
		return
	}

	order, err := h.orderService.CreateOrder(r.Context(), input)
	if err != nil {
		h.fail(w, "Failed to create order", err, "user_wallet_address", input.UserWalletAddress)
		return
	}

	h.respond(w, http.StatusCreated, order)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	order, err := h.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, "Failed to get order", err, "order_id", orderID)
		return
	}
	h.respond(w, http.StatusOK, order)
}

func (h *HTTPHandler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("user_wallet_address")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameter: user_wallet_address")
		return
	}

	orders, err := h.orderService.GetUserOrders(r.Context(), wallet)
	if err != nil {
		h.fail(w, "Failed to get user orders", err, "user_wallet_address", wallet)
		return
	}
	h.respond(w, http.StatusOK, orders)
}

func (h *HTTPHandler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	var input usecases.AcceptInput
	if !h.decode(w, r, &input) {
		return
	}
	h.orderAction(w, r, "accept", func(ctx context.Context, orderID string) (*entities.Order, error) {
		return h.orderService.AcceptOrder(ctx, orderID, input)
	})
}

func (h *HTTPHandler) MarkFiatSent(w http.ResponseWriter, r *http.Request) {
	var input usecases.FiatSentInput
	if !h.decode(w, r, &input) {
		return
	}
	h.orderAction(w, r, "fiat-sent", func(ctx context.Context, orderID string) (*entities.Order, error) {
		return h.orderService.MarkFiatSent(ctx, orderID, input)
	})
}

func (h *HTTPHandler) MarkZecReceived(w http.ResponseWriter, r *http.Request) {
	var input usecases.ZecReceivedInput
	if !h.decode(w, r, &input) {
		return
	}
	h.orderAction(w, r, "zec-received", func(ctx context.Context, orderID string) (*entities.Order, error) {
		return h.orderService.MarkZecReceived(ctx, orderID, input)
	})
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var input usecases.CancelInput
	if !h.decode(w, r, &input) {
		return
	}
	h.orderAction(w, r, "cancel", func(ctx context.Context, orderID string) (*entities.Order, error) {
		return h.orderService.CancelOrder(ctx, orderID, input)
	})
}

func (h *HTTPHandler) MarkOrderFailed(w http.ResponseWriter, r *http.Request) {
	var input usecases.FailInput
	if !h.decode(w, r, &input) {
		return
	}
	h.orderAction(w, r, "fail", func(ctx context.Context, orderID string) (*entities.Order, error) {
		return h.orderService.MarkOrderFailed(ctx, orderID, input)
	})
}

func (h *HTTPHandler) orderAction(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) (*entities.Order, error)) {
	orderID := mux.Vars(r)["orderId"]
	order, err := fn(r.Context(), orderID)
	if err != nil {
		h.fail(w, fmt.Sprintf("Failed to %s order", action), err, "order_id", orderID)
		return
	}
	h.respond(w, http.StatusOK, order)
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v. An empty body leaves v zero-valued so that
// required-field validation in the services reports what is missing.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.logger.Warn("Invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func (h *HTTPHandler) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

// fail maps err to its HTTP status. Server-side failures are logged at error level,
// client mistakes at debug.
func (h *HTTPHandler) fail(w http.ResponseWriter, msg string, err error, attrs ...any) {
	status := statusFor(err)
	attrs = append(attrs, "error", err, "status", status)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, attrs...)
	} else {
		h.logger.Debug(msg, attrs...)
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entities.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, entities.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	case entities.IsValidation(err):
		return http.StatusBadRequest
	case entities.IsNotFound(err):
		return http.StatusNotFound
	case entities.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
)

func (h *HTTPHandler) CreateBatchOrder(w http.ResponseWriter, r *http.Request) {
	var input usecases.CreateBatchInput
	if !h.decode(w, r, &input) {
		return
	}

	view, err := h.batchService.CreateBatchOrder(r.Context(), input)
	if err != nil {
		h.fail(w, "Failed to create batch", err, "user_wallet_address", input.UserWalletAddress, "items", len(input.Items))
		return
	}

	h.respond(w, http.StatusCreated, view)
}

func (h *HTTPHandler) GetBatchOrder(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchId"]
	view, err := h.batchService.GetBatchOrder(r.Context(), batchID)
	if err != nil {
		h.fail(w, "Failed to get batch", err, "batch_id", batchID)
		return
	}
	h.respond(w, http.StatusOK, view)
}

func (h *HTTPHandler) GetGroupedOrders(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]
	view, err := h.batchService.GetGroupedOrders(r.Context(), groupID)
	if err != nil {
		h.fail(w, "Failed to get group", err, "group_id", groupID)
		return
	}
	h.respond(w, http.StatusOK, view)
}

func (h *HTTPHandler) AcceptGroup(w http.ResponseWriter, r *http.Request) {
	var input usecases.AcceptInput
	if !h.decode(w, r, &input) {
		return
	}

	groupID := mux.Vars(r)["groupId"]
	view, err := h.batchService.AcceptGroup(r.Context(), groupID, input)
	if err != nil {
		h.fail(w, "Failed to accept group", err, "group_id", groupID, "merchant_id", input.MerchantID)
		return
	}

	h.respond(w, http.StatusOK, view)
}

// ListPendingOrders serves either a registered facilitator (merchant_id) or an ad hoc
// rail filter (rails=upi,pix). merchant_id wins when both are given.
func (h *HTTPHandler) ListPendingOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	merchantID := q.Get("merchant_id")
	railsParam := q.Get("rails")

	var (
		orders []entities.Order
		err    error
	)
	switch {
	case merchantID != "":
		orders, err = h.visibilityService.ListPendingOrdersForMerchant(r.Context(), merchantID)
	case railsParam != "":
		var rails []entities.PaymentRail
		rails, err = entities.ParsePaymentRails(strings.Split(railsParam, ","))
		if err == nil {
			orders, err = h.visibilityService.ListPendingOrders(r.Context(), rails)
		}
	default:
		writeError(w, http.StatusBadRequest, "Missing required parameter: merchant_id or rails")
		return
	}
	if err != nil {
		h.fail(w, "Failed to list pending orders", err, "merchant_id", merchantID, "rails", railsParam)
		return
	}
	h.respond(w, http.StatusOK, orders)
}

func (h *HTTPHandler) ListPendingGroups(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameter: merchant_id")
		return
	}

	groups, err := h.visibilityService.ListPendingGroups(r.Context(), merchantID)
	if err != nil {
		h.fail(w, "Failed to list pending groups", err, "merchant_id", merchantID)
		return
	}
	h.respond(w, http.StatusOK, groups)
}

func (h *HTTPHandler) ListActiveOrders(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	orders, err := h.visibilityService.ListActiveOrders(r.Context(), merchantID)
	if err != nil {
		h.fail(w, "Failed to list active orders", err, "merchant_id", merchantID)
		return
	}
	h.respond(w, http.StatusOK, orders)
}

func (h *HTTPHandler) ListCompletedOrders(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	orders, err := h.visibilityService.ListCompletedOrders(r.Context(), merchantID)
	if err != nil {
		h.fail(w, "Failed to list completed orders", err, "merchant_id", merchantID)
		return
	}
	h.respond(w, http.StatusOK, orders)
}

func (h *HTTPHandler) RegisterFacilitator(w http.ResponseWriter, r *http.Request) {
	var input usecases.RegisterFacilitatorInput
	if !h.decode(w, r, &input) {
		return
	}

	f, err := h.facilitatorService.RegisterFacilitator(r.Context(), input)
	if err != nil {
		h.fail(w, "Failed to register facilitator", err, "merchant_id", input.MerchantID)
		return
	}
	h.respond(w, http.StatusOK, f)
}

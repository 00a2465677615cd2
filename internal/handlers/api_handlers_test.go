package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/handlers"
	"github.com/zapp/backend/internal/rates"
	"github.com/zapp/backend/internal/usecases"
	"github.com/zapp/backend/internal/usecases/usecasetest"
)

type api struct {
	router *mux.Router
	clock  *usecasetest.Clock
	store  *usecasetest.Store
	ws     *handlers.Manager
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newAPI(t *testing.T, health handlers.HealthChecker) *api {
	t.Helper()
	return newAPIWithLogger(t, health, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newAPIWithLogger(t *testing.T, health handlers.HealthChecker, logger *slog.Logger) *api {
	t.Helper()

	clock := usecasetest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := usecasetest.NewStore(clock.Now)
	ws := handlers.NewWebSocketManager(logger)

	pricing, err := usecases.NewPricingCalculator(decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.RequireFromString("0.0001"), "zs1platform")
	require.NoError(t, err)

	opts := []usecases.Option{
		usecases.WithClock(clock.Now),
		usecases.WithPublisher(ws),
		usecases.WithRateSource(rates.NewStaticSource(map[string]decimal.Decimal{"INR": decimal.NewFromInt(4000)})),
	}

	h := handlers.NewHTTPHandler(logger,
		usecases.NewOrderService(logger, store, store, pricing, opts...),
		usecases.NewBatchService(logger, store, store, store, pricing, opts...),
		usecases.NewVisibilityService(logger, store, store, store, opts...),
		usecases.NewFacilitatorService(logger, store),
		health,
	)

	router := mux.NewRouter()
	h.RegisterRoutes(router)
	handlers.NewWebSocketHandler(logger, ws).RegisterRoutes(router)

	return &api{router: router, clock: clock, store: store, ws: ws}
}

func (a *api) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *api) register(t *testing.T, merchantID string, rails ...string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/facilitators", map[string]any{
		"merchant_id":   merchantID,
		"zec_address":   "zs1" + merchantID,
		"enabled_rails": rails,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a.clock.Advance(time.Millisecond)
}

func orderBody(wallet, rail string) map[string]any {
	return map[string]any{
		"user_wallet_address": wallet,
		"merchant_code":       "qr-1",
		"fiat_amount":         "100",
		"fiat_currency":       "INR",
		"payment_rail":        rail,
		"base_exchange_rate":  "40",
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t, nil)
	a.register(t, "m1", "upi")
	a.register(t, "m2", "upi")

	rec := a.do(t, http.MethodPost, "/orders", orderBody("u1", "upi"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[entities.Order](t, rec)
	require.Equal(t, entities.OrderPending, created.Status)
	require.True(t, decimal.RequireFromString("2.525").Equal(created.ZecAmount))
	require.True(t, decimal.RequireFromString("2.475").Equal(created.MerchantZecAmount))

	rec = a.do(t, http.MethodGet, "/merchant/orders/pending?merchant_id=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]entities.Order](t, rec), 1)

	rec = a.do(t, http.MethodPost, "/orders/"+created.ID+"/accept", map[string]string{"merchant_id": "m1", "merchant_zec_address": "zs1m1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "m1", decodeBody[entities.Order](t, rec).MerchantID)

	rec = a.do(t, http.MethodPost, "/orders/"+created.ID+"/accept", map[string]string{"merchant_id": "m2", "merchant_zec_address": "zs1m2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "not pending")

	rec = a.do(t, http.MethodPost, "/orders/"+created.ID+"/fiat-sent", map[string]string{"merchant_id": "m2"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/orders/"+created.ID+"/fiat-sent", map[string]string{"merchant_id": "m1", "fiat_payment_reference": "UTR123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "UTR123", decodeBody[entities.Order](t, rec).FiatPaymentReference)

	rec = a.do(t, http.MethodGet, "/merchant/orders/active?merchant_id=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]entities.Order](t, rec), 1)

	rec = a.do(t, http.MethodPost, "/orders/"+created.ID+"/zec-received", map[string]string{"merchant_id": "m1", "zec_tx_hash": "abc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[entities.Order](t, rec)
	require.Equal(t, entities.OrderCompleted, done.Status)
	require.Len(t, done.StatusHistory, 4)

	rec = a.do(t, http.MethodGet, "/merchant/orders/completed?merchant_id=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]entities.Order](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/orders/user?user_wallet_address=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]entities.Order](t, rec), 1)

	rec = a.do(t, http.MethodPost, "/orders/"+created.ID+"/fail", map[string]string{"reason": "late"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelOverHTTP(t *testing.T) {
	a := newAPI(t, nil)
	created := decodeBody[entities.Order](t, a.do(t, http.MethodPost, "/orders", orderBody("u1", "pix")))

	rec := a.do(t, http.MethodPost, "/orders/"+created.ID+"/cancel", map[string]string{"user_wallet_address": "someone-else"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/orders/"+created.ID+"/cancel", map[string]string{"user_wallet_address": "u1", "reason": "changed my mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, entities.OrderCancelled, decodeBody[entities.Order](t, rec).Status)

	rec = a.do(t, http.MethodGet, "/orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, entities.OrderCancelled, decodeBody[entities.Order](t, rec).Status)
}

func TestErrorStatusMapping(t *testing.T) {
	a := newAPI(t, nil)

	missingRate := orderBody("u1", "upi")
	delete(missingRate, "base_exchange_rate")
	missingRate["fiat_currency"] = "USD"

	badRail := orderBody("u1", "upi")
	badRail["payment_rail"] = "venmo"

	tooPrecise := orderBody("u1", "upi")
	tooPrecise["fiat_amount"] = "0.000000001"

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty create", http.MethodPost, "/orders", nil, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/orders", "{", http.StatusBadRequest},
		{"unknown rail", http.MethodPost, "/orders", badRail, http.StatusBadRequest},
		{"amount finer than stored precision", http.MethodPost, "/orders", tooPrecise, http.StatusBadRequest},
		{"rate unavailable", http.MethodPost, "/orders", missingRate, http.StatusServiceUnavailable},
		{"unknown order", http.MethodGet, "/orders/nope", nil, http.StatusNotFound},
		{"accept unknown order", http.MethodPost, "/orders/nope/accept", map[string]string{"merchant_id": "m1", "merchant_zec_address": "zs1"}, http.StatusNotFound},
		{"user orders without wallet", http.MethodGet, "/orders/user", nil, http.StatusBadRequest},
		{"empty batch", http.MethodPost, "/batches", map[string]any{"user_wallet_address": "u1"}, http.StatusBadRequest},
		{"unknown batch", http.MethodGet, "/batches/nope", nil, http.StatusNotFound},
		{"unknown group", http.MethodGet, "/groups/nope", nil, http.StatusNotFound},
		{"pending without filter", http.MethodGet, "/merchant/orders/pending", nil, http.StatusBadRequest},
		{"pending with bad rail", http.MethodGet, "/merchant/orders/pending?rails=upi,venmo", nil, http.StatusBadRequest},
		{"pending for unknown facilitator", http.MethodGet, "/merchant/orders/pending?merchant_id=ghost", nil, http.StatusNotFound},
		{"active without merchant", http.MethodGet, "/merchant/orders/active", nil, http.StatusBadRequest},
		{"groups without merchant", http.MethodGet, "/merchant/groups/pending", nil, http.StatusBadRequest},
		{"facilitator with unknown rail", http.MethodPost, "/facilitators", map[string]any{"merchant_id": "m1", "zec_address": "zs1", "enabled_rails": []string{"venmo"}}, http.StatusBadRequest},
		{"ws without merchant", http.MethodGet, "/ws/facilitator", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[map[string]string](t, rec)["error"])
		})
	}
}

func TestSuccessIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	a := newAPIWithLogger(t, nil, slog.New(slog.NewJSONHandler(&buf, nil)))
	a.register(t, "m1", "upi")

	rec := a.do(t, http.MethodPost, "/orders", orderBody("u1", "upi"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[entities.Order](t, rec)

	rec = a.do(t, http.MethodPost, "/orders/"+order.ID+"/accept", map[string]string{"merchant_id": "m1", "merchant_zec_address": "zs1m1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	counts := make(map[string]int)
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line struct {
			Msg string `json:"msg"`
		}
		require.NoError(t, dec.Decode(&line))
		counts[line.Msg]++
	}
	assert.Equal(t, 1, counts["Order created"])
	assert.Equal(t, 1, counts["Order updated"])
}

func TestBatchAndGroupOverHTTP(t *testing.T) {
	a := newAPI(t, nil)
	a.register(t, "m-both", "upi", "pix")

	items := []map[string]any{orderBody("", "upi"), orderBody("", "pix")}
	rec := a.do(t, http.MethodPost, "/batches", map[string]any{"user_wallet_address": "u1", "items": items})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeBody[entities.BatchView](t, rec)
	require.Equal(t, entities.BatchGrouped, view.Batch.Status)
	require.Len(t, view.Batch.MerchantGroups, 1)
	require.Len(t, view.Orders, 2)
	groupID := view.Batch.MerchantGroups[0].GroupID

	rec = a.do(t, http.MethodGet, "/merchant/groups/pending?merchant_id=m-both", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]entities.GroupView](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/merchant/orders/pending?rails=upi,pix", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody[[]entities.Order](t, rec), "grouped orders stay hidden during the window")

	rec = a.do(t, http.MethodPost, "/orders/"+view.Orders[0].ID+"/accept", map[string]string{"merchant_id": "m-both", "merchant_zec_address": "zs1"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/groups/"+groupID+"/accept", map[string]string{"merchant_id": "other"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/groups/"+groupID+"/accept", map[string]string{"merchant_id": "m-both"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decodeBody[entities.GroupView](t, rec)
	require.Equal(t, entities.GroupAccepted, accepted.Group.Status)
	for _, o := range accepted.Orders {
		require.Equal(t, entities.OrderAccepted, o.Status)
		require.Equal(t, "zs1m-both", o.MerchantZecAddress)
	}

	rec = a.do(t, http.MethodGet, "/batches/"+view.Batch.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, entities.BatchAccepted, decodeBody[entities.BatchView](t, rec).Batch.Status)

	rec = a.do(t, http.MethodGet, "/groups/"+groupID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, view.Batch.ID, decodeBody[entities.GroupView](t, rec).BatchID)
}

func TestExpiredGroupOverHTTP(t *testing.T) {
	a := newAPI(t, nil)
	a.register(t, "m-both", "upi", "pix")

	items := []map[string]any{orderBody("", "upi"), orderBody("", "pix")}
	view := decodeBody[entities.BatchView](t, a.do(t, http.MethodPost, "/batches", map[string]any{"user_wallet_address": "u1", "items": items}))
	groupID := view.Batch.MerchantGroups[0].GroupID

	a.clock.Advance(11 * time.Second)

	rec := a.do(t, http.MethodPost, "/groups/"+groupID+"/accept", map[string]string{"merchant_id": "m-both"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/merchant/orders/pending?rails=upi,pix", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]entities.Order](t, rec), 2)
}

func TestHealth(t *testing.T) {
	rec := newAPI(t, pinger{}).do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])

	rec = newAPI(t, pinger{err: errors.New("connection refused")}).do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

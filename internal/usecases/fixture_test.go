package usecases_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/metrics"
	"github.com/zapp/backend/internal/rates"
	"github.com/zapp/backend/internal/usecases"
	"github.com/zapp/backend/internal/usecases/usecasetest"
	"go.openly.dev/pointy"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock      *usecasetest.Clock
	store      *usecasetest.Store
	events     *usecasetest.Recorder
	orders     *usecases.OrderService
	batches    *usecases.BatchService
	visibility *usecases.VisibilityService
	registry   *prometheus.Registry
}

func newFixture(t *testing.T, opts ...usecases.Option) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := usecasetest.NewClock(testStart)
	store := usecasetest.NewStore(clock.Now)
	events := &usecasetest.Recorder{}
	registry := prometheus.NewRegistry()

	pricing, err := usecases.NewPricingCalculator(decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.RequireFromString("0.0001"), "zs1platform")
	require.NoError(t, err)

	rateSource := rates.NewStaticSource(map[string]decimal.Decimal{
		"INR": decimal.NewFromInt(4000),
		"BRL": decimal.NewFromInt(250),
	})

	base := []usecases.Option{
		usecases.WithClock(clock.Now),
		usecases.WithPublisher(events),
		usecases.WithMetrics(metrics.NewEngineMetrics(registry)),
		usecases.WithRateSource(rateSource),
	}
	base = append(base, opts...)

	return &fixture{
		clock:      clock,
		store:      store,
		events:     events,
		orders:     usecases.NewOrderService(logger, store, store, pricing, base...),
		batches:    usecases.NewBatchService(logger, store, store, store, pricing, base...),
		visibility: usecases.NewVisibilityService(logger, store, store, store, base...),
		registry:   registry,
	}
}

func (f *fixture) facilitator(t *testing.T, merchantID string, rails ...entities.PaymentRail) {
	t.Helper()
	require.NoError(t, f.store.UpsertFacilitator(context.Background(), &entities.Facilitator{
		MerchantID:   merchantID,
		ZecAddress:   "zs1" + merchantID,
		EnabledRails: rails,
		Active:       true,
	}))
	// registration order breaks ties in the directory
	f.clock.Advance(time.Millisecond)
}

func item(rail entities.PaymentRail, amount int64) usecases.OrderItem {
	return usecases.OrderItem{
		MerchantCode:     "qr-" + string(rail),
		FiatAmount:       decimal.NewFromInt(amount),
		FiatCurrency:     "inr",
		PaymentRail:      string(rail),
		BaseExchangeRate: pointy.Pointer(decimal.NewFromInt(40)),
	}
}

func (f *fixture) createOrder(t *testing.T, wallet string) *entities.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(context.Background(), usecases.CreateOrderInput{
		UserWalletAddress: wallet,
		OrderItem:         item(entities.RailUPI, 100),
	})
	require.NoError(t, err)
	return o
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// requireHistoryConsistent checks the history invariants on every stored order.
func requireHistoryConsistent(t *testing.T, orders ...entities.Order) {
	t.Helper()
	for _, o := range orders {
		require.NotEmpty(t, o.StatusHistory, o.ID)
		for i := 1; i < len(o.StatusHistory); i++ {
			prev, cur := o.StatusHistory[i-1], o.StatusHistory[i]
			require.False(t, cur.Timestamp.Before(prev.Timestamp), o.ID)
			require.True(t, entities.CanTransition(entities.OrderStatus(prev.Status), entities.OrderStatus(cur.Status)),
				"%s: %s -> %s", o.ID, prev.Status, cur.Status)
		}
		require.Equal(t, string(o.Status), o.StatusHistory[len(o.StatusHistory)-1].Status, o.ID)
	}
}

// counterValue reads one labelled sample from the fixture registry.
func (f *fixture) counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if want, ok := labels[l.GetName()]; ok && want != l.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// EngineMetrics holds the order and group counters. A nil *EngineMetrics records nothing.
type EngineMetrics struct {
	ordersCreated    *prometheus.CounterVec
	ordersFiatAmount *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	groupsFormed     prometheus.Counter
	batchesUngrouped prometheus.Counter
	groupAccepts     *prometheus.CounterVec
	groupsSplit      prometheus.Counter
	sweepDuration    prometheus.Histogram
}

// NewEngineMetrics registers every collector on reg.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	factory := promauto.With(reg)

	return &EngineMetrics{
		ordersCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapp_orders_created_total",
				Help: "Orders created, by payment rail and fiat currency",
			},
			[]string{"payment_rail", "fiat_currency"},
		),
		ordersFiatAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapp_orders_fiat_amount_total",
				Help: "Fiat volume of created orders",
			},
			[]string{"fiat_currency"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapp_order_transitions_total",
				Help: "Persisted order status transitions",
			},
			[]string{"from", "to"},
		),
		conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapp_order_write_conflicts_total",
				Help: "Conditional writes that lost a race, by operation",
			},
			[]string{"operation"},
		),
		groupsFormed: factory.NewCounter(prometheus.CounterOpts{
			Name: "zapp_groups_formed_total",
			Help: "Batches grouped under a single facilitator",
		}),
		batchesUngrouped: factory.NewCounter(prometheus.CounterOpts{
			Name: "zapp_batches_ungrouped_total",
			Help: "Batches for which no facilitator covered every rail",
		}),
		groupAccepts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapp_group_accepts_total",
				Help: "Group acceptance attempts, by result",
			},
			[]string{"result"},
		),
		groupsSplit: factory.NewCounter(prometheus.CounterOpts{
			Name: "zapp_groups_split_total",
			Help: "Expired groups split back into independent orders",
		}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zapp_split_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *EngineMetrics) RecordOrderCreated(rail, currency string, fiat decimal.Decimal) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(rail, currency).Inc()
	m.ordersFiatAmount.WithLabelValues(currency).Add(fiat.InexactFloat64())
}

func (m *EngineMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *EngineMetrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

func (m *EngineMetrics) RecordBatch(grouped bool) {
	if m == nil {
		return
	}
	if grouped {
		m.groupsFormed.Inc()
		return
	}
	m.batchesUngrouped.Inc()
}

func (m *EngineMetrics) RecordGroupAccept(result string) {
	if m == nil {
		return
	}
	m.groupAccepts.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) RecordGroupsSplit(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.groupsSplit.Add(float64(n))
}

func (m *EngineMetrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

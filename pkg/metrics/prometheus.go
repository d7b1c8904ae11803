package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"MarketMaker/internal/domain/models"
	"MarketMaker/internal/domain/repository"
)

var _ repository.Metrics = (*Recorder)(nil)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	regime      *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	orders      *prometheus.CounterVec
	cancels     *prometheus.CounterVec
	fills       *prometheus.CounterVec
	fillLatency prometheus.Histogram
	inventory   prometheus.Gauge
	pnl         prometheus.Gauge
	openOrders  prometheus.Gauge
	deadTicks   prometheus.Counter
	breaker     prometheus.Gauge
	queueDepth  prometheus.Gauge
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// New returns the recorder registered on the default Prometheus registry.
func New() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		regime: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mm_regime",
				Help: "Confirmed market regime (1 for the active regime)",
			},
			[]string{"regime"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mm_regime_transitions_total",
				Help: "Confirmed regime transitions",
			},
			[]string{"from", "to"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mm_orders_total",
				Help: "Order admission results",
			},
			[]string{"result"},
		),
		cancels: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mm_cancels_total",
				Help: "Cancellations sent by reason",
			},
			[]string{"reason"},
		),
		fills: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mm_fills_total",
				Help: "Fills by side and quality",
			},
			[]string{"side", "quality"},
		),
		fillLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mm_fill_latency_seconds",
			Help:    "Time from order send to fill",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		inventory: f.NewGauge(prometheus.GaugeOpts{
			Name: "mm_inventory",
			Help: "Signed inventory",
		}),
		pnl: f.NewGauge(prometheus.GaugeOpts{
			Name: "mm_pnl",
			Help: "Marked-to-mid PnL",
		}),
		openOrders: f.NewGauge(prometheus.GaugeOpts{
			Name: "mm_open_orders",
			Help: "Open orders tracked by the lifecycle manager",
		}),
		deadTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_dead_ticks_total",
			Help: "Snapshots skipped as invalid",
		}),
		breaker: f.NewGauge(prometheus.GaugeOpts{
			Name: "mm_breaker_tripped",
			Help: "1 while the circuit breaker suppresses orders",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "mm_pipeline_queue_depth",
			Help: "Events waiting in the engine pipeline",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mm_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mm_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRegime marks regime as the active one.
func (r *Recorder) RecordRegime(regime models.Regime) {
	for _, g := range models.Regimes {
		v := 0.0
		if g == regime {
			v = 1
		}
		r.regime.WithLabelValues(string(g)).Set(v)
	}
}

// RecordRegimeChange counts a confirmed transition.
func (r *Recorder) RecordRegimeChange(from, to models.Regime) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordOrder counts an admission result.
func (r *Recorder) RecordOrder(result string) {
	r.orders.WithLabelValues(result).Inc()
}

// RecordCancel counts a cancellation.
func (r *Recorder) RecordCancel(reason string) {
	r.cancels.WithLabelValues(reason).Inc()
}

// RecordFill counts a fill.
func (r *Recorder) RecordFill(side models.Side, quality models.FillQuality) {
	r.fills.WithLabelValues(string(side), string(quality)).Inc()
}

// RecordFillLatency observes send-to-fill latency.
func (r *Recorder) RecordFillLatency(seconds float64) {
	r.fillLatency.Observe(seconds)
}

// RecordPosition sets inventory and PnL.
func (r *Recorder) RecordPosition(inventory int, pnl float64) {
	r.inventory.Set(float64(inventory))
	r.pnl.Set(pnl)
}

// RecordOpenOrders sets the open-order gauge.
func (r *Recorder) RecordOpenOrders(n int) {
	r.openOrders.Set(float64(n))
}

// RecordDeadTick counts a skipped snapshot.
func (r *Recorder) RecordDeadTick() {
	r.deadTicks.Inc()
}

// RecordBreaker sets the breaker gauge.
func (r *Recorder) RecordBreaker(tripped bool) {
	v := 0.0
	if tripped {
		v = 1
	}
	r.breaker.Set(v)
}

// RecordQueueDepth sets the pipeline queue gauge.
func (r *Recorder) RecordQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

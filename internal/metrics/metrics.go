// Package metrics exposes prometheus instruments for the matching engine
// and the session. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "figgie"

type Metrics struct {
	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	trades          *prometheus.CounterVec
	tradePrice      *prometheus.HistogramVec
	requestTime     prometheus.Histogram
	marketOpen      prometheus.Gauge
	roundsSettled   prometheus.Counter
}

// New creates the instruments and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the matching engine",
		}, []string{"suit", "side"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Submissions and cancels rejected, by reason",
		}, []string{"reason"}),
		ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Resting orders removed without trading",
		}, []string{"cause"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Cards traded",
		}, []string{"suit"}),
		tradePrice: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_price_dollars",
			Help:      "Trade prices",
			Buckets:   []float64{1, 2, 5, 8, 10, 15, 20, 30, 50, 100},
		}, []string{"suit"}),
		requestTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_request_seconds",
			Help:      "Time spent processing one engine request",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		marketOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_open",
			Help:      "1 while the trading phase is open",
		}),
		roundsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_settled_total",
			Help:      "Rounds that reached settlement",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ordersSubmitted,
			m.ordersRejected,
			m.ordersCancelled,
			m.trades,
			m.tradePrice,
			m.requestTime,
			m.marketOpen,
			m.roundsSettled,
		)
	}
	return m
}

func (m *Metrics) OrderSubmitted(suit, side string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(suit, side).Inc()
}

func (m *Metrics) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrdersCancelled(cause string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ordersCancelled.WithLabelValues(cause).Add(float64(n))
}

func (m *Metrics) Trade(suit string, price int64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(suit).Inc()
	m.tradePrice.WithLabelValues(suit).Observe(float64(price))
}

func (m *Metrics) ObserveRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.requestTime.Observe(d.Seconds())
}

func (m *Metrics) MarketOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.marketOpen.Set(1)
	} else {
		m.marketOpen.Set(0)
	}
}

func (m *Metrics) RoundSettled() {
	if m == nil {
		return
	}
	m.roundsSettled.Inc()
}

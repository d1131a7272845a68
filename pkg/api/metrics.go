package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts order flow through the API layer.
type Metrics struct {
	ordersAccepted *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	tradesExecuted *prometheus.CounterVec
	tradedVolume   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ordersAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenex_orders_accepted_total",
			Help: "Orders accepted by the matching engine.",
		}, []string{"symbol", "side"}),
		ordersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenex_orders_rejected_total",
			Help: "Orders rejected, by reason.",
		}, []string{"symbol", "reason"}),
		tradesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenex_trades_total",
			Help: "Trades executed.",
		}, []string{"symbol"}),
		tradedVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenex_traded_base_volume_total",
			Help: "Base asset volume traded.",
		}, []string{"symbol"}),
	}
}

func (m *Metrics) orderAccepted(symbol, side string) {
	m.ordersAccepted.WithLabelValues(symbol, side).Inc()
}

func (m *Metrics) orderRejected(symbol, reason string) {
	m.ordersRejected.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) tradeExecuted(symbol string, quantity int64) {
	m.tradesExecuted.WithLabelValues(symbol).Inc()
	m.tradedVolume.WithLabelValues(symbol).Add(float64(quantity))
}

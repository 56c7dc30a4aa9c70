package services

import (
	"errors"
	"options-market/interfaces"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// MarketMetrics holds the engine's Prometheus collectors
type MarketMetrics struct {
	// Operations counts engine operations by name and outcome
	Operations *prometheus.CounterVec
	// EventsEmitted counts committed events by name
	EventsEmitted *prometheus.CounterVec
	// FeesCollected sums retained trade fees in trade-currency base units
	FeesCollected prometheus.Counter
	// OpenTrades is the number of trades currently open
	OpenTrades prometheus.Gauge
	// ExpiredUncollected is the number of expired options still holding collateral
	ExpiredUncollected prometheus.Gauge
}

// NewMarketMetrics creates the collectors and registers them on reg
func NewMarketMetrics(reg prometheus.Registerer) (*MarketMetrics, error) {
	m := &MarketMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "options_market",
			Name:      "operations_total",
			Help:      "Engine operations by name and result",
		}, []string{"operation", "result"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "options_market",
			Name:      "events_emitted_total",
			Help:      "Domain events committed to the event log",
		}, []string{"event"}),
		FeesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options_market",
			Name:      "fees_collected_total",
			Help:      "Trade fees retained by the engine in base units",
		}),
		OpenTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "options_market",
			Name:      "open_trades",
			Help:      "Trades currently open",
		}),
		ExpiredUncollected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "options_market",
			Name:      "expired_uncollected_options",
			Help:      "Options past expiry whose collateral has not been collected",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.Operations,
		m.EventsEmitted,
		m.FeesCollected,
		m.OpenTrades,
		m.ExpiredUncollected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MarketMetrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, resultLabel(err)).Inc()
}

func (m *MarketMetrics) committed(events []*interfaces.Event, fee decimal.Decimal, openTrades int) {
	if m == nil {
		return
	}
	for _, e := range events {
		m.EventsEmitted.WithLabelValues(string(e.Name)).Inc()
	}
	if fee.IsPositive() {
		m.FeesCollected.Add(fee.InexactFloat64())
	}
	m.OpenTrades.Set(float64(openTrades))
}

var resultLabels = []struct {
	err   error
	label string
}{
	{interfaces.ErrNotFound, "not_found"},
	{interfaces.ErrNotOwner, "not_owner"},
	{interfaces.ErrNotWriter, "not_writer"},
	{interfaces.ErrNotPoster, "not_poster"},
	{interfaces.ErrNotTreasury, "not_treasury"},
	{interfaces.ErrAlreadyResolved, "already_resolved"},
	{interfaces.ErrNotOpen, "not_open"},
	{interfaces.ErrExpired, "expired"},
	{interfaces.ErrNotExpired, "not_expired"},
	{interfaces.ErrInsufficientAllowance, "insufficient_allowance"},
	{interfaces.ErrInsufficientBalance, "insufficient_balance"},
	{interfaces.ErrInsufficientCustody, "insufficient_custody"},
	{interfaces.ErrInvalidAmount, "invalid"},
	{interfaces.ErrInvalidKind, "invalid"},
	{interfaces.ErrInvalidAccount, "invalid"},
	{interfaces.ErrUnknownToken, "unknown_token"},
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	for _, r := range resultLabels {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "error"
}

package metrics

type Counter interface {
	Inc()
}

// Metrics are the trading session counters. Every field is non-nil.
type Metrics struct {
	RoundsCompleted      Counter
	RoundsPartialFailure Counter
	SpreadCollapses      Counter
	OrdersPlaced         Counter
	OrdersFailed         Counter
	CancelFailures       Counter
	BalanceDrift         Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		RoundsCompleted:      n,
		RoundsPartialFailure: n,
		SpreadCollapses:      n,
		OrdersPlaced:         n,
		OrdersFailed:         n,
		CancelFailures:       n,
		BalanceDrift:         n,
	}
}

// OrNoop returns m, or a noop set when m is nil.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "pairquote_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
	}
	p.Metrics = &Metrics{
		RoundsCompleted:      p.counter("rounds_completed_total", "Total number of quote rounds that passed balance reconciliation."),
		RoundsPartialFailure: p.counter("rounds_partial_failure_total", "Total number of rounds where one order leg failed."),
		SpreadCollapses:      p.counter("spread_collapses_total", "Total number of rounds skipped because the spread was too narrow."),
		OrdersPlaced:         p.counter("orders_placed_total", "Total number of orders placed."),
		OrdersFailed:         p.counter("orders_failed_total", "Total number of order placement failures."),
		CancelFailures:       p.counter("cancel_failures_total", "Total number of failed order cancellations."),
		BalanceDrift:         p.counter("balance_drift_total", "Total number of sessions aborted on balance drift."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Package metrics collects Prometheus counters and histograms for the
// connectivity-check engine: checks sent/succeeded/failed, role
// conflicts, nominations and list outcomes. Collection is optional —
// an Agent built without a Registry gets the no-op implementation, so
// the hot path of handling a STUN response never pays for metrics it
// isn't exporting.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the hook set the connectivity-check engine calls into.
// Kept as an interface so Agent construction never depends on
// Prometheus directly (internal/server follows the same split between
// Server and *promMetrics).
type Metrics interface {
	IncChecksSent()
	IncChecksSucceeded()
	IncChecksFailed()
	IncChecksTimeout()
	IncRoleConflicts()
	IncNominations()
	IncListCompleted()
	IncListFailed()
	ObserveRTT(seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) IncChecksSent()      {}
func (noopMetrics) IncChecksSucceeded() {}
func (noopMetrics) IncChecksFailed()    {}
func (noopMetrics) IncChecksTimeout()   {}
func (noopMetrics) IncRoleConflicts()   {}
func (noopMetrics) IncNominations()     {}
func (noopMetrics) IncListCompleted()   {}
func (noopMetrics) IncListFailed()      {}
func (noopMetrics) ObserveRTT(float64)  {}

// Noop is a Metrics implementation that discards every observation.
var Noop Metrics = noopMetrics{}

// Registry is the subset of prometheus.Registerer a caller needs to
// register Prom.
type Registry interface {
	Register(c prometheus.Collector) error
}

// Prom is the Prometheus-backed Metrics implementation. It also
// satisfies prometheus.Collector so it can be registered directly
// with a Registry.
type Prom struct {
	checksSent      prometheus.Counter
	checksSucceeded prometheus.Counter
	checksFailed    prometheus.Counter
	checksTimeout   prometheus.Counter
	roleConflicts   prometheus.Counter
	nominations     prometheus.Counter
	listsCompleted  prometheus.Counter
	listsFailed     prometheus.Counter
	rtt             prometheus.Histogram
}

// New builds a Prom with labels applied to every collector, e.g.
// {"agent": agentID} to disambiguate multiple agents sharing a
// process-wide registry.
func New(labels prometheus.Labels) *Prom {
	return &Prom{
		checksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagent_checks_sent_total",
			Help:        "Binding requests sent by the connectivity-check engine.",
			ConstLabels: labels,
		}),
		checksSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagent_checks_succeeded_total",
			Help:        "Binding requests that completed with a symmetric success response.",
			ConstLabels: labels,
		}),
		checksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagent_checks_failed_total",
			Help:        "Binding requests that failed for a reason other than timeout.",
			ConstLabels: labels,
		}),
		checksTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagent_checks_timeout_total",
			Help:        "Binding requests that exhausted retransmits without a response.",
			ConstLabels: labels,
		}),
		roleConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagent_role_conflicts_total",
			Help:        "Role conflicts observed, either yielded or won.",
			ConstLabels: labels,
		}),
		nominations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagent_nominations_total",
			Help:        "Pairs nominated across all components and streams.",
			ConstLabels: labels,
		}),
		listsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagent_lists_completed_total",
			Help:        "Check lists that reached Completed.",
			ConstLabels: labels,
		}),
		listsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagent_lists_failed_total",
			Help:        "Check lists that reached Failed.",
			ConstLabels: labels,
		}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "iceagent_check_rtt_seconds",
			Help:        "Round-trip time of successful connectivity checks.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

func (p *Prom) IncChecksSent()      { p.checksSent.Inc() }
func (p *Prom) IncChecksSucceeded() { p.checksSucceeded.Inc() }
func (p *Prom) IncChecksFailed()    { p.checksFailed.Inc() }
func (p *Prom) IncChecksTimeout()   { p.checksTimeout.Inc() }
func (p *Prom) IncRoleConflicts()   { p.roleConflicts.Inc() }
func (p *Prom) IncNominations()     { p.nominations.Inc() }
func (p *Prom) IncListCompleted()   { p.listsCompleted.Inc() }
func (p *Prom) IncListFailed()      { p.listsFailed.Inc() }
func (p *Prom) ObserveRTT(s float64) {
	p.rtt.Observe(s)
}

// Describe implements prometheus.Collector.
func (p *Prom) Describe(d chan<- *prometheus.Desc) {
	d <- p.checksSent.Desc()
	d <- p.checksSucceeded.Desc()
	d <- p.checksFailed.Desc()
	d <- p.checksTimeout.Desc()
	d <- p.roleConflicts.Desc()
	d <- p.nominations.Desc()
	d <- p.listsCompleted.Desc()
	d <- p.listsFailed.Desc()
	d <- p.rtt.Desc()
}

// Collect implements prometheus.Collector.
func (p *Prom) Collect(c chan<- prometheus.Metric) {
	p.checksSent.Collect(c)
	p.checksSucceeded.Collect(c)
	p.checksFailed.Collect(c)
	p.checksTimeout.Collect(c)
	p.roleConflicts.Collect(c)
	p.nominations.Collect(c)
	p.listsCompleted.Collect(c)
	p.listsFailed.Collect(c)
	p.rtt.Collect(c)
}

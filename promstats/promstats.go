// Package promstats exports [eventpoll.Stats] as Prometheus metrics.
package promstats

import (
	"github.com/joeycumines/go-eventpoll"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by [eventpoll.EventPoll].
type StatsSource interface {
	Stats() eventpoll.Stats
}

type metric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(s *eventpoll.Stats) float64
}

// Collector is a prometheus.Collector, which takes one Stats snapshot per
// scrape.
type Collector struct {
	source  StatsSource
	metrics []metric
}

var _ prometheus.Collector = (*Collector)(nil)

// New returns a Collector for source. The namespace (e.g. the program name)
// and constLabels (e.g. identifying one of several instances) are optional.
func New(source StatsSource, namespace string, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, `eventpoll`, name),
			help,
			nil,
			constLabels,
		)
	}
	return &Collector{
		source: source,
		metrics: []metric{
			{
				desc(`registered`, `Number of registered ids.`),
				prometheus.GaugeValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Registered) },
			},
			{
				desc(`queued`, `Number of ids in the ready queue.`),
				prometheus.GaugeValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Queued) },
			},
			{
				desc(`notifications_total`, `Readiness notifications for registered ids.`),
				prometheus.CounterValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Notifications) },
			},
			{
				desc(`coalesced_total`, `Notifications merged into an already queued id.`),
				prometheus.CounterValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Coalesced) },
			},
			{
				desc(`filtered_total`, `Notifications discarded by the interest mask.`),
				prometheus.CounterValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Filtered) },
			},
			{
				desc(`suppressed_total`, `Notifications discarded for disarmed one-shot ids.`),
				prometheus.CounterValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Suppressed) },
			},
			{
				desc(`unregistered_notifications_total`, `Notifications for ids that were not registered.`),
				prometheus.CounterValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Unregistered) },
			},
			{
				desc(`drained_events_total`, `Events delivered to consumers.`),
				prometheus.CounterValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Drained) },
			},
			{
				desc(`wakeups_total`, `Signals that woke parked waiters.`),
				prometheus.CounterValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Wakeups) },
			},
			{
				desc(`wait_timeouts_total`, `Waits that timed out.`),
				prometheus.CounterValue,
				func(s *eventpoll.Stats) float64 { return float64(s.Timeouts) },
			},
		},
	}
}

// Describe implements prometheus.Collector.
func (x *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range x.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (x *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := x.source.Stats()
	for _, m := range x.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(&stats))
	}
}

// Package metrics exposes alarmd counters to Prometheus. Counters are driven
// by the event bus; gauges are read from callbacks at scrape time.
package metrics

import (
	"context"
	"net/http"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/task/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alarmd"

// Sources are read on every scrape. Nil funcs are skipped.
type Sources struct {
	Alarms     func() int
	QueueDepth func() int
	NextTick   func() (time.Duration, bool)
}

type Metrics struct {
	reg   *prometheus.Registry
	start time.Time

	fired          *prometheus.CounterVec
	retired        prometheus.Counter
	added          prometheus.Counter
	reloads        prometheus.Counter
	dispatchFailed prometheus.Counter
	calcFailed     prometheus.Counter
	announced      prometheus.Counter
	tasksDropped   *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	queueDelay     prometheus.Histogram
}

// New builds a private registry holding the alarmd collectors plus the Go
// runtime and process collectors.
func New(src Sources) *Metrics {
	m := &Metrics{
		reg:   prometheus.NewRegistry(),
		start: time.Now(),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_fired_total",
			Help:      "Alarms that came due and were handed to dispatch, by kind.",
		}, []string{"kind"}),
		retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_retired_total",
			Help:      "One-shot alarms removed from the registry.",
		}),
		added: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_added_total",
			Help:      "One-shot alarms added at runtime.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Successful registry reloads from definition files.",
		}),
		dispatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Dispatches that failed to enqueue or whose handler failed.",
		}),
		calcFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculation_failures_total",
			Help:      "Alarms whose next occurrence could not be computed.",
		}),
		announced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Announcements published by the built-in handler.",
		}),
		tasksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Dispatch tasks dropped by the engine, by reason.",
		}, []string{"reason"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Handler run time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		queueDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_delay_seconds",
			Help:      "Time a dispatch waited in the queue before a worker took it.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	m.reg.MustRegister(
		m.fired, m.retired, m.added, m.reloads, m.dispatchFailed, m.calcFailed,
		m.announced, m.tasksDropped, m.taskDuration, m.queueDelay,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started.",
		}, func() float64 { return time.Since(m.start).Seconds() }),
	)
	if src.Alarms != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alarms",
			Help:      "Alarms currently registered.",
		}, func() float64 { return float64(src.Alarms()) }))
	}
	if src.QueueDepth != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Dispatch tasks waiting for a worker.",
		}, func() float64 { return float64(src.QueueDepth()) }))
	}
	if src.NextTick != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_tick_seconds",
			Help:      "Seconds until the next poll, -1 when the tick is stopped.",
		}, func() float64 {
			d, ok := src.NextTick()
			if !ok {
				return -1
			}
			return d.Seconds()
		}))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run feeds bus events into the counters until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe updates the counters for a single event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.AlarmFired:
		kind := "unknown"
		if fe, ok := ev.Data.(alarm.FiredEvent); ok && fe.Kind != "" {
			kind = alarm.Kind(fe.Kind[0]).Name()
		}
		m.fired.WithLabelValues(kind).Inc()
	case eventbus.AlarmRetired:
		m.retired.Inc()
	case eventbus.AlarmAdded:
		m.added.Inc()
	case eventbus.AlarmReloaded:
		m.reloads.Inc()
	case eventbus.AlarmDispatchFailed:
		m.dispatchFailed.Inc()
	case eventbus.AlarmCalcFailed:
		m.calcFailed.Inc()
	case eventbus.AlarmAnnounce:
		m.announced.Inc()
	case eventbus.TaskStarted:
		if te, ok := ev.Data.(engine.TaskEvent); ok {
			m.queueDelay.Observe(te.QueueDelay.Seconds())
		}
	case eventbus.TaskFinished:
		if te, ok := ev.Data.(engine.TaskEvent); ok {
			m.taskDuration.Observe(te.Duration.Seconds())
		}
	case eventbus.TaskDropped:
		reason := "unknown"
		if te, ok := ev.Data.(engine.TaskEvent); ok && te.Error != "" {
			reason = te.Error
		}
		m.tasksDropped.WithLabelValues(reason).Inc()
	}
}

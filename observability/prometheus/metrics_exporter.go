package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/isokit/isokit/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	itemDurationSeconds *prom.HistogramVec
	itemFailureTotal    *prom.CounterVec
	itemRejectedTotal   *prom.CounterVec
	backlogDepth        *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "isokit"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "item_duration_seconds",
		Help:      "Work item execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"component"})
	failureVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "item_failure_total",
		Help:      "Total number of failed work items (errors and panics).",
	}, []string{"component"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "item_rejected_total",
		Help:      "Total number of rejected work items.",
	}, []string{"component", "reason"})
	backlogDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "backlog_depth",
		Help:      "Current backlog depth.",
	}, []string{"component"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failureVec, err = registerCollector(reg, failureVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if backlogDepthVec, err = registerCollector(reg, backlogDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		itemDurationSeconds: durationVec,
		itemFailureTotal:    failureVec,
		itemRejectedTotal:   rejectedVec,
		backlogDepth:        backlogDepthVec,
	}, nil
}

// RecordItemDuration records item execution duration.
func (m *MetricsExporter) RecordItemDuration(component string, duration time.Duration) {
	if m == nil {
		return
	}
	m.itemDurationSeconds.WithLabelValues(normalizeLabel(component, "unknown")).Observe(duration.Seconds())
}

// RecordItemFailure records item failure events.
func (m *MetricsExporter) RecordItemFailure(component string) {
	if m == nil {
		return
	}
	m.itemFailureTotal.WithLabelValues(normalizeLabel(component, "unknown")).Inc()
}

// RecordBacklogDepth records backlog depth.
func (m *MetricsExporter) RecordBacklogDepth(component string, depth int) {
	if m == nil {
		return
	}
	m.backlogDepth.WithLabelValues(normalizeLabel(component, "unknown")).Set(float64(depth))
}

// RecordItemRejected records item rejection events.
func (m *MetricsExporter) RecordItemRejected(component string, reason string) {
	if m == nil {
		return
	}
	m.itemRejectedTotal.WithLabelValues(normalizeLabel(component, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}

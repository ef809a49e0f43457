// Package obsprom adapts core.Metrics to Prometheus collectors.
package obsprom

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/corotask/corotask/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	wakeupTotal         *prom.CounterVec
	cancellationTotal   *prom.CounterVec
	coroutinePoolSize   *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "corotask"
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
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"processor", "importance"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"processor"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"processor", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current ready-queue depth.",
	}, []string{"processor"})
	wakeupVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_wakeup_total",
		Help:      "Total number of task wakeups by resolved source.",
	}, []string{"processor", "source"})
	cancellationVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_cancellation_total",
		Help:      "Total number of task cancellations by reason.",
	}, []string{"processor", "reason"})
	coroutinePoolVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "coroutine_pool_live",
		Help:      "Number of live frame goroutines held by a processor's coroutine pool.",
	}, []string{"processor"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if wakeupVec, err = registerCollector(reg, wakeupVec); err != nil {
		return nil, err
	}
	if cancellationVec, err = registerCollector(reg, cancellationVec); err != nil {
		return nil, err
	}
	if coroutinePoolVec, err = registerCollector(reg, coroutinePoolVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		wakeupTotal:         wakeupVec,
		cancellationTotal:   cancellationVec,
		coroutinePoolSize:   coroutinePoolVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(processorName string, importance core.Importance, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(processorName, "unknown"), importance.String()).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(processorName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(processorName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(processorName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(processorName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(processorName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(processorName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordWakeup records a resolved task wakeup by source.
func (m *MetricsExporter) RecordWakeup(processorName string, source core.WakeupSource) {
	if m == nil {
		return
	}
	m.wakeupTotal.WithLabelValues(normalizeLabel(processorName, "unknown"), source.String()).Inc()
}

// RecordCancellation records a task cancellation by reason.
func (m *MetricsExporter) RecordCancellation(processorName string, reason core.CancellationReason) {
	if m == nil {
		return
	}
	m.cancellationTotal.WithLabelValues(normalizeLabel(processorName, "unknown"), reason.String()).Inc()
}

// RecordCoroutinePoolSize records the number of live frame goroutines held
// by a processor's coroutine pool.
func (m *MetricsExporter) RecordCoroutinePoolSize(processorName string, live int) {
	if m == nil {
		return
	}
	m.coroutinePoolSize.WithLabelValues(normalizeLabel(processorName, "unknown")).Set(float64(live))
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

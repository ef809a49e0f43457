package obsprom

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/corotask/corotask/core"
)

// ProcessorSnapshotProvider provides current processor stats snapshots.
type ProcessorSnapshotProvider interface {
	Stats() core.ProcessorStats
}

// SnapshotPoller periodically exports TaskProcessor Stats() snapshots into
// Prometheus gauges, complementing the event-driven counters MetricsExporter
// records as they happen.
type SnapshotPoller struct {
	interval time.Duration

	processorsMu sync.RWMutex
	processors   map[string]ProcessorSnapshotProvider

	pending         *prom.GaugeVec
	running         *prom.GaugeVec
	suspended       *prom.GaugeVec
	coroutinesLive  *prom.GaugeVec
	tasksCompleted  *prom.GaugeVec
	tasksCancelled  *prom.GaugeVec
	tasksRejected   *prom.GaugeVec
	cancelRequested *prom.GaugeVec
	closed          *prom.GaugeVec

	stateMu sync.Mutex
	polling bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "corotask"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	pending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_pending",
		Help:      "Number of queued (not yet running) tasks per processor.",
	}, []string{"processor"})
	running := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_running",
		Help:      "Number of currently running tasks per processor.",
	}, []string{"processor"})
	suspended := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_suspended",
		Help:      "Number of suspended (sleeping) tasks per processor.",
	}, []string{"processor"})
	coroutinesLive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_coroutines_live",
		Help:      "Number of live frame goroutines per processor's coroutine pool.",
	}, []string{"processor"})
	tasksCompleted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_tasks_completed",
		Help:      "Cumulative completed task count snapshot per processor.",
	}, []string{"processor"})
	tasksCancelled := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_tasks_cancelled",
		Help:      "Cumulative cancelled task count snapshot per processor.",
	}, []string{"processor"})
	tasksRejected := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_tasks_rejected",
		Help:      "Cumulative rejected task count snapshot per processor.",
	}, []string{"processor"})
	cancelRequested := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_cancel_requested",
		Help:      "Cumulative cancel-request count snapshot per processor.",
	}, []string{"processor"})
	closed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_closed",
		Help:      "Processor closed state (1=closed, 0=open).",
	}, []string{"processor"})

	var err error
	if pending, err = registerCollector(reg, pending); err != nil {
		return nil, err
	}
	if running, err = registerCollector(reg, running); err != nil {
		return nil, err
	}
	if suspended, err = registerCollector(reg, suspended); err != nil {
		return nil, err
	}
	if coroutinesLive, err = registerCollector(reg, coroutinesLive); err != nil {
		return nil, err
	}
	if tasksCompleted, err = registerCollector(reg, tasksCompleted); err != nil {
		return nil, err
	}
	if tasksCancelled, err = registerCollector(reg, tasksCancelled); err != nil {
		return nil, err
	}
	if tasksRejected, err = registerCollector(reg, tasksRejected); err != nil {
		return nil, err
	}
	if cancelRequested, err = registerCollector(reg, cancelRequested); err != nil {
		return nil, err
	}
	if closed, err = registerCollector(reg, closed); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:        interval,
		processors:      make(map[string]ProcessorSnapshotProvider),
		pending:         pending,
		running:         running,
		suspended:       suspended,
		coroutinesLive:  coroutinesLive,
		tasksCompleted:  tasksCompleted,
		tasksCancelled:  tasksCancelled,
		tasksRejected:   tasksRejected,
		cancelRequested: cancelRequested,
		closed:          closed,
	}, nil
}

// AddProcessor adds or replaces a processor snapshot provider by name.
func (p *SnapshotPoller) AddProcessor(name string, provider ProcessorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "processor")
	p.processorsMu.Lock()
	p.processors[name] = provider
	p.processorsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.polling {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.polling = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.polling {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.polling = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.processorsMu.RLock()
	defer p.processorsMu.RUnlock()

	for name, provider := range p.processors {
		stats := provider.Stats()
		p.pending.WithLabelValues(name).Set(float64(stats.Pending))
		p.running.WithLabelValues(name).Set(float64(stats.Running))
		p.suspended.WithLabelValues(name).Set(float64(stats.Suspended))
		p.coroutinesLive.WithLabelValues(name).Set(float64(stats.CoroutinesLive))
		p.tasksCompleted.WithLabelValues(name).Set(float64(stats.TasksCompleted))
		p.tasksCancelled.WithLabelValues(name).Set(float64(stats.TasksCancelled))
		p.tasksRejected.WithLabelValues(name).Set(float64(stats.TasksRejected))
		p.cancelRequested.WithLabelValues(name).Set(float64(stats.CancelRequested))
		if stats.Closed {
			p.closed.WithLabelValues(name).Set(1)
		} else {
			p.closed.WithLabelValues(name).Set(0)
		}
	}
}

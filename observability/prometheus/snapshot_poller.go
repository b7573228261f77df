package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/isokit/isokit/core"
)

// QueueSnapshotProvider provides current domain queue stats snapshots.
type QueueSnapshotProvider interface {
	Stats() core.QueueStats
}

// PoolSnapshotProvider provides current bounded pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// ExecutorSnapshotProvider provides current executor stats snapshots.
type ExecutorSnapshotProvider interface {
	Stats() core.ExecutorStats
}

// SnapshotPoller periodically exports Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	queuesMu sync.RWMutex
	queues   map[string]QueueSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	executorsMu sync.RWMutex
	executors   map[string]ExecutorSnapshotProvider

	queuePending   *prom.GaugeVec
	queueConsuming *prom.GaugeVec
	queueClosed    *prom.GaugeVec
	queueProcessed *prom.GaugeVec
	queueFailed    *prom.GaugeVec

	poolRunning   *prom.GaugeVec
	poolCapacity  *prom.GaugeVec
	poolSubmitted *prom.GaugeVec
	poolCompleted *prom.GaugeVec

	executorQueued  *prom.GaugeVec
	executorActive  *prom.GaugeVec
	executorWorkers *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	p := &SnapshotPoller{
		interval:  interval,
		queues:    make(map[string]QueueSnapshotProvider),
		pools:     make(map[string]PoolSnapshotProvider),
		executors: make(map[string]ExecutorSnapshotProvider),
	}

	gauges := []struct {
		target **prom.GaugeVec
		name   string
		help   string
		labels []string
	}{
		{&p.queuePending, "queue_pending", "Items waiting in a domain queue backlog.", []string{"queue"}},
		{&p.queueConsuming, "queue_consuming", "Whether the consumer loop is active (1) or idle (0).", []string{"queue"}},
		{&p.queueClosed, "queue_closed", "Whether the queue has been closed (1) or not (0).", []string{"queue"}},
		{&p.queueProcessed, "queue_processed", "Items processed by the queue so far.", []string{"queue"}},
		{&p.queueFailed, "queue_failed", "Items failed in the queue so far.", []string{"queue"}},
		{&p.poolRunning, "pool_running", "Items currently executing in a bounded pool.", []string{"pool"}},
		{&p.poolCapacity, "pool_capacity", "Concurrency ceiling of a bounded pool.", []string{"pool"}},
		{&p.poolSubmitted, "pool_submitted", "Items submitted to a bounded pool so far.", []string{"pool"}},
		{&p.poolCompleted, "pool_completed", "Items completed by a bounded pool so far.", []string{"pool"}},
		{&p.executorQueued, "executor_queued", "Procedures waiting for an executor worker.", []string{"executor"}},
		{&p.executorActive, "executor_active", "Procedures currently executing on an executor.", []string{"executor"}},
		{&p.executorWorkers, "executor_workers", "Worker count of an executor.", []string{"executor"}},
	}

	for _, g := range gauges {
		vec := prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "isokit",
			Name:      g.name,
			Help:      g.help,
		}, g.labels)
		registered, err := registerCollector(reg, vec)
		if err != nil {
			return nil, err
		}
		*g.target = registered
	}

	return p, nil
}

// AddQueue registers a domain queue to be polled under the given label.
func (p *SnapshotPoller) AddQueue(name string, provider QueueSnapshotProvider) {
	p.queuesMu.Lock()
	defer p.queuesMu.Unlock()
	p.queues[name] = provider
}

// AddPool registers a bounded pool to be polled under the given label.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	p.poolsMu.Lock()
	defer p.poolsMu.Unlock()
	p.pools[name] = provider
}

// AddExecutor registers an executor to be polled under the given label.
func (p *SnapshotPoller) AddExecutor(name string, provider ExecutorSnapshotProvider) {
	p.executorsMu.Lock()
	defer p.executorsMu.Unlock()
	p.executors[name] = provider
}

// Start begins polling until Stop is called or ctx is cancelled.
// Calling Start on a running poller is a no-op.
func (p *SnapshotPoller) Start(ctx context.Context) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.running {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		// One immediate collection so gauges exist before the first tick
		p.collect()

		for {
			select {
			case <-ticker.C:
				p.collect()
			case <-pollCtx.Done():
				return
			}
		}
	}()
}

// Stop halts polling and waits for the poll goroutine to exit.
func (p *SnapshotPoller) Stop() {
	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	cancel()
	<-done
}

// Collect performs one synchronous snapshot collection.
func (p *SnapshotPoller) Collect() {
	p.collect()
}

func (p *SnapshotPoller) collect() {
	p.queuesMu.RLock()
	for name, provider := range p.queues {
		stats := provider.Stats()
		p.queuePending.WithLabelValues(name).Set(float64(stats.Pending))
		p.queueConsuming.WithLabelValues(name).Set(boolGauge(stats.Consuming))
		p.queueClosed.WithLabelValues(name).Set(boolGauge(stats.Closed))
		p.queueProcessed.WithLabelValues(name).Set(float64(stats.Processed))
		p.queueFailed.WithLabelValues(name).Set(float64(stats.Failed))
	}
	p.queuesMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolRunning.WithLabelValues(name).Set(float64(stats.Running))
		p.poolCapacity.WithLabelValues(name).Set(float64(stats.Capacity))
		p.poolSubmitted.WithLabelValues(name).Set(float64(stats.Submitted))
		p.poolCompleted.WithLabelValues(name).Set(float64(stats.Completed))
	}
	p.poolsMu.RUnlock()

	p.executorsMu.RLock()
	for name, provider := range p.executors {
		stats := provider.Stats()
		p.executorQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.executorActive.WithLabelValues(name).Set(float64(stats.Active))
		p.executorWorkers.WithLabelValues(name).Set(float64(stats.Workers))
	}
	p.executorsMu.RUnlock()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

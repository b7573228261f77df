package isokit

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/isokit/isokit/core"
)

// GoroutineWorkerPool manages a set of worker goroutines pulling procedures
// from a Dispatcher. It is the canonical core.Executor implementation.
type GoroutineWorkerPool struct {
	id         string
	workers    int
	dispatcher *core.Dispatcher
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	runningMu  sync.RWMutex
}

// NewGoroutineWorkerPool creates a worker pool with default dispatcher handlers.
func NewGoroutineWorkerPool(id string, workers int) *GoroutineWorkerPool {
	return NewGoroutineWorkerPoolWithConfig(id, workers, core.DefaultDispatcherConfig())
}

// NewGoroutineWorkerPoolWithConfig creates a worker pool with custom
// panic/metrics/rejection plug points.
func NewGoroutineWorkerPoolWithConfig(id string, workers int, config *core.DispatcherConfig) *GoroutineWorkerPool {
	return &GoroutineWorkerPool{
		id:         id,
		workers:    workers,
		dispatcher: core.NewDispatcherWithConfig(workers, config),
	}
}

// Start launches the worker goroutines. Calling Start on a running pool is a no-op.
func (p *GoroutineWorkerPool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running {
		return // Already running
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i, p.ctx)
	}
}

// Stop shuts the pool down immediately: queued procedures are dropped and
// workers exit after their current procedure.
func (p *GoroutineWorkerPool) Stop() {
	// Always shut the dispatcher down to release queued procedure references,
	// even if the pool was never started
	p.dispatcher.Shutdown()

	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.runningMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.Join()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()
}

// StopGraceful waits for queued and active procedures to finish before
// stopping the workers. Returns an error if timeout elapses first.
func (p *GoroutineWorkerPool) StopGraceful(timeout time.Duration) error {
	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return nil
	}
	p.runningMu.Unlock()

	if err := p.dispatcher.ShutdownGraceful(timeout); err != nil {
		// Timeout: workers still need to be cancelled
		if p.cancel != nil {
			p.cancel()
		}
		p.Join()

		p.runningMu.Lock()
		p.running = false
		p.runningMu.Unlock()

		return err
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.Join()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()

	return nil
}

// ID returns the pool identifier.
func (p *GoroutineWorkerPool) ID() string {
	return p.id
}

// IsRunning reports whether the pool has been started and not yet stopped.
func (p *GoroutineWorkerPool) IsRunning() bool {
	p.runningMu.RLock()
	defer p.runningMu.RUnlock()
	return p.running
}

// workerLoop is the main loop for each worker.
func (p *GoroutineWorkerPool) workerLoop(id int, ctx context.Context) {
	defer p.wg.Done()
	stopCh := ctx.Done()

	for {
		proc, ok := p.dispatcher.GetWork(stopCh)
		if !ok {
			// Dispatcher drained and context cancelled
			return
		}

		p.dispatcher.OnProcStart()

		func() {
			defer func() {
				p.dispatcher.OnProcEnd()
				if rec := recover(); rec != nil {
					p.dispatcher.GetPanicHandler().HandlePanic(ctx, p.id, id, rec, debug.Stack())
				}
			}()
			proc(ctx)
		}()
	}
}

// Join waits for all worker goroutines to finish.
func (p *GoroutineWorkerPool) Join() {
	p.wg.Wait()
}

// WorkerCount returns the number of workers.
func (p *GoroutineWorkerPool) WorkerCount() int {
	return p.workers
}

func (p *GoroutineWorkerPool) QueuedCount() int {
	return p.dispatcher.QueuedCount()
}

func (p *GoroutineWorkerPool) ActiveCount() int {
	return p.dispatcher.ActiveCount()
}

// Post schedules a procedure on the pool's workers and reports whether it
// was accepted. Procedures posted after Stop or during graceful shutdown are
// rejected.
func (p *GoroutineWorkerPool) Post(proc core.Proc) bool {
	return p.dispatcher.Post(proc)
}

// Stats returns a point-in-time snapshot of the pool.
func (p *GoroutineWorkerPool) Stats() core.ExecutorStats {
	return core.ExecutorStats{
		ID:      p.id,
		Workers: p.workers,
		Queued:  p.dispatcher.QueuedCount(),
		Active:  p.dispatcher.ActiveCount(),
		Running: p.IsRunning(),
	}
}

// =============================================================================
// Global Worker Pool Helper (Singleton)
// =============================================================================

var (
	globalWorkerPool *GoroutineWorkerPool
	globalMu         sync.Mutex
)

// InitGlobalWorkerPool initializes and starts the process-wide worker pool.
// Subsequent calls are no-ops.
func InitGlobalWorkerPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalWorkerPool != nil {
		return // Already initialized
	}

	globalWorkerPool = NewGoroutineWorkerPool("global-pool", workers)
	globalWorkerPool.Start(context.Background())
}

// GetGlobalWorkerPool returns the global pool.
// Panics if InitGlobalWorkerPool has not been called.
func GetGlobalWorkerPool() *GoroutineWorkerPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalWorkerPool == nil {
		panic("GlobalWorkerPool not initialized. Call InitGlobalWorkerPool() first.")
	}
	return globalWorkerPool
}

// ShutdownGlobalWorkerPool stops and releases the global pool.
func ShutdownGlobalWorkerPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalWorkerPool != nil {
		globalWorkerPool.Stop()
		globalWorkerPool = nil
	}
}

// NewOrderedDomainQueue creates an OrderedDomainQueue backed by the global
// worker pool. This is the recommended way to get a domain queue.
func NewOrderedDomainQueue(opts ...core.QueueOption) *core.OrderedDomainQueue {
	return core.NewOrderedDomainQueue(GetGlobalWorkerPool(), opts...)
}

// NewBoundedTaskPool creates a BoundedTaskPool backed by the global worker pool.
func NewBoundedTaskPool(capacity int, opts ...core.PoolOption) *core.BoundedTaskPool {
	return core.NewBoundedTaskPool(GetGlobalWorkerPool(), capacity, opts...)
}

package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Dispatcher is the FIFO work source behind an Executor. Producers push
// procedures; workers pull them via GetWork. There is deliberately no
// priority signal anywhere in the scheduling path: procedures leave the
// queue in exactly the order they were posted.
type Dispatcher struct {
	queue       *fifoQueue[Proc]
	signal      chan struct{}
	workerCount int

	metricQueued int32 // Waiting in the queue
	metricActive int32 // Executing in a worker

	// Handlers and Metrics
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedItemHandler RejectedItemHandler

	// Lifecycle
	shuttingDown int32 // atomic flag
}

// NewDispatcher creates a dispatcher for workerCount workers with default handlers.
func NewDispatcher(workerCount int) *Dispatcher {
	return NewDispatcherWithConfig(workerCount, DefaultDispatcherConfig())
}

// NewDispatcherWithConfig creates a dispatcher with the given plug points.
func NewDispatcherWithConfig(workerCount int, config *DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		queue:       newFIFOQueue[Proc](),
		signal:      make(chan struct{}, workerCount*2),
		workerCount: workerCount,
	}

	if config != nil {
		d.panicHandler = config.PanicHandler
		d.metrics = config.Metrics
		d.rejectedItemHandler = config.RejectedItemHandler
	}

	if d.panicHandler == nil {
		d.panicHandler = &DefaultPanicHandler{}
	}
	if d.metrics == nil {
		d.metrics = &NilMetrics{}
	}
	if d.rejectedItemHandler == nil {
		d.rejectedItemHandler = &DefaultRejectedItemHandler{}
	}

	return d
}

// Post enqueues a procedure for worker pickup and reports whether it was
// accepted. Rejected (dropped, handler notified) once shutdown has begun.
func (d *Dispatcher) Post(proc Proc) bool {
	if atomic.LoadInt32(&d.shuttingDown) == 1 {
		d.rejectedItemHandler.HandleRejectedItem("dispatcher", "shutting down")
		d.metrics.RecordItemRejected("dispatcher", "shutting down")
		return false
	}

	d.queue.Push(proc)
	atomic.AddInt32(&d.metricQueued, 1)

	select {
	case d.signal <- struct{}{}:
	default:
		// Signal channel full, but the procedure is already queued.
		// The signal is a wakeup hint, not a unit of work.
	}
	return true
}

// GetWork blocks until a procedure is available or stopCh fires.
// Called by workers.
func (d *Dispatcher) GetWork(stopCh <-chan struct{}) (Proc, bool) {
	for {
		if proc, ok := d.queue.Pop(); ok {
			atomic.AddInt32(&d.metricQueued, -1)
			return proc, true
		}

		select {
		case <-d.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// Shutdown stops accepting new procedures and drops the queued ones.
func (d *Dispatcher) Shutdown() {
	atomic.StoreInt32(&d.shuttingDown, 1)

	// Release all queued procedure references (including bound run loops)
	d.queue.Clear()
}

// ShutdownGraceful waits for queued and active procedures to complete.
// Returns an error if the timeout elapses first; the queue is force-cleared then.
func (d *Dispatcher) ShutdownGraceful(timeout time.Duration) error {
	atomic.StoreInt32(&d.shuttingDown, 1)

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			d.queue.Clear()
			return fmt.Errorf("graceful shutdown timeout after %v, forced clearing", timeout)
		case <-ticker.C:
			if d.QueuedCount() == 0 && d.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// Metrics
func (d *Dispatcher) WorkerCount() int { return d.workerCount }
func (d *Dispatcher) QueuedCount() int { return int(atomic.LoadInt32(&d.metricQueued)) }
func (d *Dispatcher) ActiveCount() int { return int(atomic.LoadInt32(&d.metricActive)) }

func (d *Dispatcher) OnProcStart() {
	atomic.AddInt32(&d.metricActive, 1)
}

func (d *Dispatcher) OnProcEnd() {
	atomic.AddInt32(&d.metricActive, -1)
}

// GetPanicHandler returns the panic handler for this dispatcher.
func (d *Dispatcher) GetPanicHandler() PanicHandler {
	return d.panicHandler
}

// GetMetrics returns the metrics collector for this dispatcher.
func (d *Dispatcher) GetMetrics() Metrics {
	return d.metrics
}

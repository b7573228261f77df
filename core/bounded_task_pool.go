package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxAllowedCapacity caps the concurrency ceiling. Values above this defeat
	// the point of a bounded pool and risk goroutine and memory exhaustion.
	maxAllowedCapacity = 10000
)

// BoundedTaskPool executes independent work items with a hard concurrency
// ceiling. SubmitAll seeds up to capacity items, refills each freed slot with
// the next pending item, and resolves only when every item has finished.
//
// The ceiling exists to avoid the unbounded "submit everything at once"
// pattern, which pre-allocates per-item scheduling resources long before the
// items can actually run. Completion order is unconstrained; pair results back
// to items via Result.Index when order matters. With capacity 1 the pool
// degenerates to a strict serial executor and completion order equals
// submission order.
type BoundedTaskPool struct {
	executor Executor
	capacity int
	limiter  *rate.Limiter

	running   atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	name    string
	logger  Logger
	metrics Metrics
	journal Journal
	history executionHistory
}

// PoolOption configures a BoundedTaskPool.
type PoolOption func(*BoundedTaskPool)

// WithPoolName sets the component name used in logs, metrics and journal records.
func WithPoolName(name string) PoolOption {
	return func(p *BoundedTaskPool) { p.name = name }
}

// WithStartLimiter paces slot starts with a token bucket. The ceiling still
// applies; the limiter only slows how quickly freed slots are refilled.
func WithStartLimiter(limiter *rate.Limiter) PoolOption {
	return func(p *BoundedTaskPool) { p.limiter = limiter }
}

// WithPoolLogger sets the structured logger. Defaults to NoOpLogger.
func WithPoolLogger(logger Logger) PoolOption {
	return func(p *BoundedTaskPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPoolMetrics sets the metrics collector. Defaults to NilMetrics.
func WithPoolMetrics(metrics Metrics) PoolOption {
	return func(p *BoundedTaskPool) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// WithPoolJournal enables best-effort item lifecycle journaling.
func WithPoolJournal(journal Journal) PoolOption {
	return func(p *BoundedTaskPool) { p.journal = journal }
}

// NewBoundedTaskPool creates a pool with a fixed concurrency ceiling.
// Panics if executor is nil or capacity is outside [1, 10000].
func NewBoundedTaskPool(executor Executor, capacity int, opts ...PoolOption) *BoundedTaskPool {
	if executor == nil {
		panic("BoundedTaskPool: executor must not be nil")
	}
	if capacity < 1 {
		panic("BoundedTaskPool: capacity must be at least 1")
	}
	if capacity > maxAllowedCapacity {
		panic("BoundedTaskPool: capacity must not exceed 10000")
	}

	p := &BoundedTaskPool{
		executor: executor,
		capacity: capacity,
		name:     "bounded-pool",
		logger:   NewNoOpLogger(),
		metrics:  &NilMetrics{},
		history:  newExecutionHistory(defaultHistoryCapacity),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the component name of this pool.
func (p *BoundedTaskPool) Name() string { return p.name }

// Capacity returns the concurrency ceiling.
func (p *BoundedTaskPool) Capacity() int { return p.capacity }

// RunningCount returns the number of items executing right now.
func (p *BoundedTaskPool) RunningCount() int { return int(p.running.Load()) }

// SubmitAll executes items with at most Capacity running concurrently and
// blocks until all of them have finished. Results arrive in completion order,
// each carrying the submission Index of its item.
//
// An individual item's failure (error or panic) is captured in that item's
// Result and never aborts its siblings; SubmitAll itself does not fail for it.
// Callers must inspect every Result.
//
// Cancelling ctx stops pending items from starting; items already running
// finish cooperatively (their operations receive ctx and may exit early).
// SubmitAll then returns the results collected so far together with ctx.Err().
// A start limiter failure unrelated to the context (for example a zero-burst
// limiter) aborts the batch the same way, returning the limiter's error.
// Items that never started have no Result; an aborted batch is never reported
// with a nil error.
//
// Panics if any item has a nil Op.
func (p *BoundedTaskPool) SubmitAll(ctx context.Context, items []WorkItem) ([]Result, error) {
	for _, item := range items {
		if item.Op == nil {
			panic("BoundedTaskPool: work item has nil Op")
		}
	}
	n := len(items)
	if n == 0 {
		return nil, ctx.Err()
	}

	p.submitted.Add(int64(n))
	p.journalSubmitted(items)

	// Buffered to n so a finishing item never blocks on the coordinator.
	completions := make(chan Result, n)

	start := func(index int) {
		item := items[index]
		p.running.Add(1)
		accepted := p.executor.Post(func(context.Context) {
			// Items observe the submit context, not the executor's, so a
			// cancelled batch is visible to cooperative operations.
			completions <- p.runItem(ctx, item, index)
		})
		if !accepted {
			// Executor stopped mid-batch; report the item instead of leaving
			// the coordinator waiting for a completion that never comes.
			p.running.Add(-1)
			p.failed.Add(1)
			p.metrics.RecordItemRejected(p.name, "executor stopped")
			now := time.Now()
			completions <- Result{
				ItemID:     item.ID,
				Label:      item.Label,
				Index:      index,
				Err:        ErrExecutorStopped,
				StartedAt:  now,
				FinishedAt: now,
			}
		}
	}

	results := make([]Result, 0, n)
	next := 0
	inFlight := 0
	cancelled := false
	var startErr error

	for inFlight > 0 || (!cancelled && next < n) {
		// Fill free slots up to the ceiling
		for !cancelled && next < n && inFlight < p.capacity {
			if err := p.waitStartSlot(ctx); err != nil {
				cancelled = true
				startErr = err
				break
			}
			start(next)
			next++
			inFlight++
		}
		if inFlight == 0 {
			break
		}

		var res Result
		if cancelled {
			// No new starts; just drain what is still running
			res = <-completions
		} else {
			select {
			case res = <-completions:
			case <-ctx.Done():
				cancelled = true
				startErr = ctx.Err()
				continue
			}
		}
		results = append(results, res)
		inFlight--
	}

	if cancelled {
		p.logger.Debug("batch aborted",
			F("pool", p.name), F("started", next), F("total", n), F("error", startErr))
		// A cancelled context wins; otherwise surface the limiter's own error
		// so unstarted items never vanish behind a nil error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}
		return results, startErr
	}
	return results, nil
}

// waitStartSlot applies the optional start limiter and the context before a
// pending item may occupy a freed slot.
func (p *BoundedTaskPool) waitStartSlot(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("start limiter: %w", err)
		}
	}
	return ctx.Err()
}

// runItem invokes one item's operation, capturing its error or panic.
func (p *BoundedTaskPool) runItem(ctx context.Context, item WorkItem, index int) Result {
	defer p.running.Add(-1)

	res := Result{
		ItemID:    item.ID,
		Label:     item.Label,
		Index:     index,
		StartedAt: time.Now(),
	}
	p.journalStarted(item, res.StartedAt)

	panicked := false
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				panicked = true
				res.Err = &PanicError{Value: rec, Stack: debug.Stack()}
			}
		}()
		res.Value, res.Err = item.Op(ctx)
	}()
	res.FinishedAt = time.Now()

	p.completed.Add(1)
	p.metrics.RecordItemDuration(p.name, res.Duration())
	if res.Failed() {
		p.failed.Add(1)
		p.metrics.RecordItemFailure(p.name)
		p.logger.Debug("item failed",
			F("pool", p.name), F("label", item.Label), F("error", res.Err))
	}

	p.history.Add(ItemExecutionRecord{
		ItemID:     item.ID,
		Label:      item.Label,
		Component:  p.name,
		Index:      index,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Duration:   res.Duration(),
		Failed:     res.Failed(),
		Panicked:   panicked,
	})
	p.journalFinished(item, res)

	return res
}

// Stats returns a point-in-time observability snapshot.
func (p *BoundedTaskPool) Stats() PoolStats {
	return PoolStats{
		Name:      p.name,
		Capacity:  p.capacity,
		Running:   int(p.running.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// RecentItems returns completed item records, newest first.
func (p *BoundedTaskPool) RecentItems(limit int) []ItemExecutionRecord {
	return p.history.Recent(limit)
}

// =============================================================================
// Journal helpers (best effort, never fail the operation)
// =============================================================================

func (p *BoundedTaskPool) journalSubmitted(items []WorkItem) {
	if p.journal == nil {
		return
	}
	now := time.Now()
	for _, item := range items {
		err := p.journal.RecordEnqueued(context.Background(), ItemRecord{
			ID:         item.ID,
			Label:      item.Label,
			Component:  p.name,
			Status:     ItemStatusPending,
			EnqueuedAt: now,
		})
		if err != nil {
			p.logger.Warn("journal submit record failed", F("pool", p.name), F("error", err))
		}
	}
}

func (p *BoundedTaskPool) journalStarted(item WorkItem, at time.Time) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordStarted(context.Background(), item.ID, at); err != nil {
		p.logger.Warn("journal start record failed", F("pool", p.name), F("error", err))
	}
}

func (p *BoundedTaskPool) journalFinished(item WorkItem, res Result) {
	if p.journal == nil {
		return
	}
	status := ItemStatusCompleted
	errMsg := ""
	if res.Failed() {
		status = ItemStatusFailed
		errMsg = res.Err.Error()
	}
	if err := p.journal.RecordFinished(context.Background(), item.ID, status, errMsg, res.FinishedAt); err != nil {
		p.logger.Warn("journal finish record failed", F("pool", p.name), F("error", err))
	}
}

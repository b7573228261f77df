package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// OrderedDomainQueue binds a FIFO backlog to exactly one isolation domain.
// Producers on any goroutine enqueue items; a single consumer loop drains them
// strictly in enqueue order, one item fully finished before the next begins.
//
// The queue is deliberately insensitive to any priority signal. Spawning one
// goroutine per item, or posting items to a shared pool independently, lets the
// scheduler reorder them; routing everything through one backlog and one
// consumer loop makes reordering impossible by construction.
//
// An item's operation may re-enqueue further items into its own queue
// (see GetCurrentDomain); re-entrant enqueues append to the tail like any other.
type OrderedDomainQueue struct {
	executor Executor
	backlog  *fifoQueue[queueEntry]

	mu        sync.Mutex
	started   bool // consumption enabled by StartConsuming, disabled by Cancel
	consuming bool // a consumer loop is scheduled or running

	activeRunners int32       // atomic guard for concurrency assertion
	closed        atomic.Bool // no further enqueues once set

	nextIndex atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	name        string
	haltOnError bool
	logger      Logger
	metrics     Metrics
	journal     Journal
	history     executionHistory
}

type queueEntry struct {
	item  WorkItem
	index int
	reply chan Result
}

// QueueOption configures an OrderedDomainQueue.
type QueueOption func(*OrderedDomainQueue)

// WithQueueName sets the component name used in logs, metrics and journal records.
func WithQueueName(name string) QueueOption {
	return func(q *OrderedDomainQueue) { q.name = name }
}

// WithHaltOnError stops the consumer loop after a failed item instead of
// continuing to the next one. The queue stays open; StartConsuming resumes it.
func WithHaltOnError() QueueOption {
	return func(q *OrderedDomainQueue) { q.haltOnError = true }
}

// WithQueueLogger sets the structured logger. Defaults to NoOpLogger.
func WithQueueLogger(logger Logger) QueueOption {
	return func(q *OrderedDomainQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithQueueMetrics sets the metrics collector. Defaults to NilMetrics.
func WithQueueMetrics(metrics Metrics) QueueOption {
	return func(q *OrderedDomainQueue) {
		if metrics != nil {
			q.metrics = metrics
		}
	}
}

// WithQueueJournal enables best-effort item lifecycle journaling.
func WithQueueJournal(journal Journal) QueueOption {
	return func(q *OrderedDomainQueue) { q.journal = journal }
}

// NewOrderedDomainQueue creates an idle queue bound to the given executor.
// Panics if executor is nil. The consumer loop does not run until
// StartConsuming is called.
func NewOrderedDomainQueue(executor Executor, opts ...QueueOption) *OrderedDomainQueue {
	if executor == nil {
		panic("OrderedDomainQueue: executor must not be nil")
	}
	q := &OrderedDomainQueue{
		executor: executor,
		backlog:  newFIFOQueue[queueEntry](),
		name:     "ordered-domain",
		logger:   NewNoOpLogger(),
		metrics:  &NilMetrics{},
		history:  newExecutionHistory(defaultHistoryCapacity),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the component name of this queue.
func (q *OrderedDomainQueue) Name() string { return q.name }

// IsClosed reports whether Close has been called.
func (q *OrderedDomainQueue) IsClosed() bool { return q.closed.Load() }

// PendingCount returns the number of items waiting in the backlog.
func (q *OrderedDomainQueue) PendingCount() int { return q.backlog.Len() }

// Enqueue appends an item to the backlog and returns a buffered channel that
// receives the item's Result once its operation has run to completion.
// Enqueue never blocks the caller. Returns ErrClosed after Close.
//
// Panics if item.Op is nil; a nil operation is a programmer error, not a
// runtime condition.
func (q *OrderedDomainQueue) Enqueue(item WorkItem) (<-chan Result, error) {
	if item.Op == nil {
		panic("OrderedDomainQueue: work item has nil Op")
	}
	if q.closed.Load() {
		q.metrics.RecordItemRejected(q.name, "closed")
		return nil, ErrClosed
	}

	entry := queueEntry{
		item:  item,
		index: int(q.nextIndex.Add(1) - 1),
		reply: make(chan Result, 1),
	}
	q.backlog.Push(entry)
	q.metrics.RecordBacklogDepth(q.name, q.backlog.Len())
	q.journalEnqueued(entry)

	q.scheduleRunLoop()
	return entry.reply, nil
}

// EnqueueFunc wraps op into a fresh WorkItem and enqueues it.
func (q *OrderedDomainQueue) EnqueueFunc(label string, op Op) (<-chan Result, error) {
	return q.Enqueue(NewWorkItem(label, op))
}

// EnqueueAfter enqueues item once delay has elapsed. Returns ErrClosed if the
// queue is already closed at call time; a close racing the timer silently
// drops the item (logged at debug level).
func (q *OrderedDomainQueue) EnqueueAfter(item WorkItem, delay time.Duration) error {
	if item.Op == nil {
		panic("OrderedDomainQueue: work item has nil Op")
	}
	if q.closed.Load() {
		return ErrClosed
	}

	// time.AfterFunc fires on its own goroutine; Enqueue is safe from any
	// calling context, so inject the item back through the normal path.
	time.AfterFunc(delay, func() {
		if _, err := q.Enqueue(item); err != nil {
			q.logger.Debug("delayed item dropped", F("label", item.Label), F("error", err))
		}
	})
	return nil
}

// StartConsuming begins the single consumer loop. Idempotent: calling it while
// consumption is already enabled is a no-op, never an error, and never
// produces a second loop. After Cancel, StartConsuming resumes the drain.
func (q *OrderedDomainQueue) StartConsuming() {
	q.mu.Lock()
	q.started = true

	// Recomputed even when consumption was already enabled: `consuming` keeps
	// this idempotent while an executor rejection gets another chance.
	// Lock order: q.mu -> backlog.mu (safe, never taken in reverse)
	need := !q.consuming && !q.backlog.IsEmpty()
	if need {
		q.consuming = true
	}
	q.mu.Unlock()

	if need {
		q.postRunLoop()
	}
}

// Cancel requests the consumer loop stop after its current item. The in-flight
// item is never aborted; cancellation is observed between items. The queue
// stays open for enqueues and StartConsuming resumes consumption.
func (q *OrderedDomainQueue) Cancel() {
	q.mu.Lock()
	q.started = false
	q.mu.Unlock()
	q.logger.Debug("consumption cancelled", F("queue", q.name))
}

// Close permanently rejects further enqueues. Items already in the backlog are
// still drained in order by the consumer loop.
func (q *OrderedDomainQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		q.logger.Info("queue closed", F("queue", q.name), F("pending", q.backlog.Len()))
	}
}

// WaitIdle blocks until every item enqueued before the call has completed.
// Implemented as a barrier item through the normal backlog, so it requires an
// active consumer and an open queue. Items enqueued after WaitIdle are not
// waited for.
func (q *OrderedDomainQueue) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	if _, err := q.EnqueueFunc("idle-barrier", func(ctx context.Context) (any, error) {
		close(done)
		return nil, nil
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a point-in-time observability snapshot.
func (q *OrderedDomainQueue) Stats() QueueStats {
	stats := QueueStats{
		Name:      q.name,
		Pending:   q.backlog.Len(),
		Closed:    q.closed.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
	q.mu.Lock()
	stats.Consuming = q.consuming
	q.mu.Unlock()

	if last, ok := q.history.Last(); ok {
		stats.LastLabel = last.Label
		stats.LastItemAt = last.FinishedAt
	}
	return stats
}

// RecentItems returns completed item records, newest first.
func (q *OrderedDomainQueue) RecentItems(limit int) []ItemExecutionRecord {
	return q.history.Recent(limit)
}

// scheduleRunLoop posts the consumer loop if consumption is enabled and no
// loop is active.
func (q *OrderedDomainQueue) scheduleRunLoop() {
	q.mu.Lock()
	if q.started && !q.consuming {
		q.consuming = true
		q.mu.Unlock()
		q.postRunLoop()
		return
	}
	q.mu.Unlock()
}

// rePostSelf re-submits the loop to the executor, yielding between items.
func (q *OrderedDomainQueue) rePostSelf() {
	q.postRunLoop()
}

// postRunLoop hands the consumer loop to the executor. A rejection (stopped or
// shutting-down executor) releases `consuming` so the backlog is not stranded
// behind a loop that will never run; a later StartConsuming reschedules it.
func (q *OrderedDomainQueue) postRunLoop() {
	if q.executor.Post(q.runLoop) {
		return
	}
	q.mu.Lock()
	q.consuming = false
	q.mu.Unlock()
	q.logger.Warn("consumer loop rejected by executor",
		F("queue", q.name), F("executor", q.executor.ID()), F("pending", q.backlog.Len()))
}

// runLoop consumes exactly one backlog item, then yields by re-posting itself.
// Re-posting per item keeps one logical consumer while sharing the executor's
// workers fairly with other components.
//
// The activeRunners decrement must happen BEFORE the loop hands off, whether
// by re-posting itself or by releasing `consuming`: a deferred decrement runs
// after the handoff, so a worker picking up the successor (or a fresh loop
// scheduled by an enqueue) would observe count 2 and trip the assertion, and
// the stuck `consuming` flag would then strand the backlog permanently. Every
// exit path below decrements explicitly ahead of its handoff.
func (q *OrderedDomainQueue) runLoop(ctx context.Context) {
	// Assertion: strictly one consumer loop at a time
	if n := atomic.AddInt32(&q.activeRunners, 1); n > 1 {
		panic(fmt.Sprintf("OrderedDomainQueue: concurrent consumer loop detected (count=%d)", n))
	}

	// Cancellation is checked between items, never mid-item
	q.mu.Lock()
	if !q.started {
		q.consuming = false
		atomic.AddInt32(&q.activeRunners, -1)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	entry, ok := q.backlog.Pop()
	if !ok {
		// Race: an enqueue may land between Pop and the emptiness re-check
		q.mu.Lock()
		if q.backlog.IsEmpty() {
			q.consuming = false
			atomic.AddInt32(&q.activeRunners, -1)
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		atomic.AddInt32(&q.activeRunners, -1)
		q.rePostSelf()
		return
	}
	q.metrics.RecordBacklogDepth(q.name, q.backlog.Len())

	runCtx := context.WithValue(ctx, domainKey, q)
	res := q.runEntry(runCtx, entry)

	if res.Failed() && q.haltOnError {
		q.mu.Lock()
		q.started = false
		q.consuming = false
		atomic.AddInt32(&q.activeRunners, -1)
		q.mu.Unlock()
		q.logger.Warn("halting consumption after failed item",
			F("queue", q.name), F("label", entry.item.Label), F("error", res.Err))
		return
	}

	q.mu.Lock()
	if q.backlog.IsEmpty() {
		q.consuming = false
		atomic.AddInt32(&q.activeRunners, -1)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	atomic.AddInt32(&q.activeRunners, -1)
	q.rePostSelf()
}

// runEntry invokes one item's operation to completion, capturing its error or
// panic into the Result. Failures never tear down the consumer.
func (q *OrderedDomainQueue) runEntry(ctx context.Context, entry queueEntry) Result {
	res := Result{
		ItemID:    entry.item.ID,
		Label:     entry.item.Label,
		Index:     entry.index,
		StartedAt: time.Now(),
	}
	q.journalStarted(entry, res.StartedAt)

	panicked := false
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				panicked = true
				res.Err = &PanicError{Value: rec, Stack: debug.Stack()}
			}
		}()
		res.Value, res.Err = entry.item.Op(ctx)
	}()
	res.FinishedAt = time.Now()

	q.processed.Add(1)
	q.metrics.RecordItemDuration(q.name, res.Duration())
	if res.Failed() {
		q.failed.Add(1)
		q.metrics.RecordItemFailure(q.name)
		q.logger.Debug("item failed",
			F("queue", q.name), F("label", entry.item.Label), F("error", res.Err))
	}

	q.history.Add(ItemExecutionRecord{
		ItemID:     entry.item.ID,
		Label:      entry.item.Label,
		Component:  q.name,
		Index:      entry.index,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Duration:   res.Duration(),
		Failed:     res.Failed(),
		Panicked:   panicked,
	})
	q.journalFinished(entry, res)

	entry.reply <- res
	return res
}

// =============================================================================
// Journal helpers (best effort, never fail the operation)
// =============================================================================

func (q *OrderedDomainQueue) journalEnqueued(entry queueEntry) {
	if q.journal == nil {
		return
	}
	err := q.journal.RecordEnqueued(context.Background(), ItemRecord{
		ID:         entry.item.ID,
		Label:      entry.item.Label,
		Component:  q.name,
		Status:     ItemStatusPending,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		q.logger.Warn("journal enqueue record failed", F("queue", q.name), F("error", err))
	}
}

func (q *OrderedDomainQueue) journalStarted(entry queueEntry, at time.Time) {
	if q.journal == nil {
		return
	}
	if err := q.journal.RecordStarted(context.Background(), entry.item.ID, at); err != nil {
		q.logger.Warn("journal start record failed", F("queue", q.name), F("error", err))
	}
}

func (q *OrderedDomainQueue) journalFinished(entry queueEntry, res Result) {
	if q.journal == nil {
		return
	}
	status := ItemStatusCompleted
	errMsg := ""
	if res.Failed() {
		status = ItemStatusFailed
		errMsg = res.Err.Error()
	}
	if err := q.journal.RecordFinished(context.Background(), entry.item.ID, status, errMsg, res.FinishedAt); err != nil {
		q.logger.Warn("journal finish record failed", F("queue", q.name), F("error", err))
	}
}

package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Op is a unit of work. It receives the executor's context and returns a value
// or an error. Operations must be self-contained; shared state they touch is
// only safe when all access is funneled through one OrderedDomainQueue.
type Op func(ctx context.Context) (any, error)

// Proc is a bare procedure posted to an Executor. Components wrap their work
// into Procs before handing it to the worker substrate.
type Proc func(ctx context.Context)

// WorkItem is one schedulable unit: a labeled operation with a unique ID.
type WorkItem struct {
	ID    uuid.UUID
	Label string
	Op    Op
}

// NewWorkItem creates a WorkItem with a fresh random ID.
func NewWorkItem(label string, op Op) WorkItem {
	return WorkItem{
		ID:    uuid.New(),
		Label: label,
		Op:    op,
	}
}

// Result captures the outcome of one executed WorkItem.
type Result struct {
	ItemID     uuid.UUID
	Label      string
	Index      int // submission/enqueue position, starting at 0
	Value      any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether the item returned an error or panicked.
func (r Result) Failed() bool { return r.Err != nil }

// Duration returns the item's wall-clock execution time.
func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type domainContextKey struct{}

var domainKey = domainContextKey{}

// GetCurrentDomain returns the OrderedDomainQueue whose consumer loop is
// executing the current operation, or nil when the context does not belong to
// a queue item. Items may use it to enqueue follow-up work into their own
// domain; such re-entrant enqueues append to the tail.
func GetCurrentDomain(ctx context.Context) *OrderedDomainQueue {
	q, _ := ctx.Value(domainKey).(*OrderedDomainQueue)
	return q
}

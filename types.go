package isokit

import "github.com/isokit/isokit/core"

// Re-export commonly used types from the core package for convenience.
// This allows users to import only the isokit package for most use cases.

// Op is the deferred operation carried by a WorkItem
type Op = core.Op

// Proc is a plain procedure posted to an Executor
type Proc = core.Proc

// WorkItem is an opaque unit of work with an identity and an operation
type WorkItem = core.WorkItem

// Result is the outcome of one WorkItem invocation
type Result = core.Result

// OrderedDomainQueue drains items strictly in enqueue order within one domain
type OrderedDomainQueue = core.OrderedDomainQueue

// BoundedTaskPool executes items under a hard concurrency ceiling
type BoundedTaskPool = core.BoundedTaskPool

// Executor is the host-scheduler capability the components run on
type Executor = core.Executor

// Journal persists item lifecycle transitions
type Journal = core.Journal

// QueueStats / PoolStats / ExecutorStats are observability snapshots
type QueueStats = core.QueueStats
type PoolStats = core.PoolStats
type ExecutorStats = core.ExecutorStats

// ErrClosed is returned by Enqueue after the queue has been closed
var ErrClosed = core.ErrClosed

// Convenience constructors and helpers
var (
	NewWorkItem      = core.NewWorkItem
	NewMemoryJournal = core.NewMemoryJournal
	GetCurrentDomain = core.GetCurrentDomain
)

package core

import (
	"time"

	"github.com/google/uuid"
)

// ItemExecutionRecord captures one completed item invocation.
type ItemExecutionRecord struct {
	ItemID     uuid.UUID
	Label      string
	Component  string
	Index      int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Failed     bool
	Panicked   bool
}

// QueueStats is a point-in-time snapshot of an OrderedDomainQueue.
type QueueStats struct {
	Name       string
	Pending    int
	Consuming  bool
	Closed     bool
	Processed  int64
	Failed     int64
	LastLabel  string
	LastItemAt time.Time
}

// PoolStats is a point-in-time snapshot of a BoundedTaskPool.
type PoolStats struct {
	Name      string
	Capacity  int
	Running   int
	Submitted int64
	Completed int64
	Failed    int64
}

// ExecutorStats is a point-in-time snapshot of an Executor.
type ExecutorStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Running bool
}

package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Item lifecycle journal
// =============================================================================

type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "PENDING"
	ItemStatusRunning   ItemStatus = "RUNNING"
	ItemStatusCompleted ItemStatus = "COMPLETED"
	ItemStatusFailed    ItemStatus = "FAILED"
)

// ItemRecord is the journaled lifecycle state of one WorkItem.
type ItemRecord struct {
	ID         uuid.UUID
	Label      string
	Component  string
	Status     ItemStatus
	Error      string
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// ItemFilter narrows List results.
type ItemFilter struct {
	Status ItemStatus // Empty means all
	Limit  int        // 0 means no limit
}

// ErrItemNotFound is returned by Journal.Get for unknown item IDs.
var ErrItemNotFound = errors.New("item not found in journal")

// Journal persists item lifecycle transitions. Implementations may be
// in-memory or backed by an external store; components treat journal writes
// as best effort and never fail an operation on a journal error.
type Journal interface {
	RecordEnqueued(ctx context.Context, record ItemRecord) error
	RecordStarted(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordFinished(ctx context.Context, id uuid.UUID, status ItemStatus, errMsg string, at time.Time) error

	Get(ctx context.Context, id uuid.UUID) (ItemRecord, error)
	List(ctx context.Context, filter ItemFilter) ([]ItemRecord, error)
}

// =============================================================================
// MemoryJournal
// =============================================================================

// MemoryJournal is the default in-process Journal. List returns records in
// enqueue order.
type MemoryJournal struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*ItemRecord
	order   []uuid.UUID
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		records: make(map[uuid.UUID]*ItemRecord),
	}
}

func (j *MemoryJournal) RecordEnqueued(ctx context.Context, record ItemRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if record.Status == "" {
		record.Status = ItemStatusPending
	}
	if _, exists := j.records[record.ID]; !exists {
		j.order = append(j.order, record.ID)
	}
	stored := record
	j.records[record.ID] = &stored
	return nil
}

func (j *MemoryJournal) RecordStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.records[id]
	if !ok {
		return ErrItemNotFound
	}
	rec.Status = ItemStatusRunning
	rec.StartedAt = at
	return nil
}

func (j *MemoryJournal) RecordFinished(ctx context.Context, id uuid.UUID, status ItemStatus, errMsg string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.records[id]
	if !ok {
		return ErrItemNotFound
	}
	rec.Status = status
	rec.Error = errMsg
	rec.FinishedAt = at
	return nil
}

func (j *MemoryJournal) Get(ctx context.Context, id uuid.UUID) (ItemRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rec, ok := j.records[id]
	if !ok {
		return ItemRecord{}, ErrItemNotFound
	}
	return *rec, nil
}

func (j *MemoryJournal) List(ctx context.Context, filter ItemFilter) ([]ItemRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]ItemRecord, 0, len(j.order))
	for _, id := range j.order {
		rec := j.records[id]
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, *rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

package redisjournal

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/isokit/isokit/core"
)

// Integration tests; they need a reachable Redis. Set REDIS_ADDR (for example
// "localhost:6379") to enable them.
func testJournal(t *testing.T) *Journal {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis journal tests")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis at %s not reachable: %v", addr, err)
	}

	j := New(rdb, WithPrefix("isokit:test:journal"), WithTTL(time.Minute))
	t.Cleanup(func() {
		j.Clear(context.Background())
		rdb.Close()
	})
	return j
}

// TestJournal_Lifecycle verifies the enqueued -> started -> finished flow
func TestJournal_Lifecycle(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()
	id := uuid.New()
	enqueuedAt := time.Now().UTC().Truncate(time.Millisecond)

	if err := j.RecordEnqueued(ctx, core.ItemRecord{
		ID: id, Label: "job", Component: "orders", EnqueuedAt: enqueuedAt,
	}); err != nil {
		t.Fatalf("RecordEnqueued failed: %v", err)
	}

	rec, err := j.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != core.ItemStatusPending || rec.Label != "job" || rec.Component != "orders" {
		t.Errorf("record after enqueue = %+v", rec)
	}
	if !rec.EnqueuedAt.Equal(enqueuedAt) {
		t.Errorf("EnqueuedAt = %v, want %v", rec.EnqueuedAt, enqueuedAt)
	}

	startedAt := enqueuedAt.Add(5 * time.Millisecond)
	if err := j.RecordStarted(ctx, id, startedAt); err != nil {
		t.Fatalf("RecordStarted failed: %v", err)
	}
	rec, _ = j.Get(ctx, id)
	if rec.Status != core.ItemStatusRunning || !rec.StartedAt.Equal(startedAt) {
		t.Errorf("record after start = %+v", rec)
	}

	finishedAt := startedAt.Add(5 * time.Millisecond)
	if err := j.RecordFinished(ctx, id, core.ItemStatusFailed, "boom", finishedAt); err != nil {
		t.Fatalf("RecordFinished failed: %v", err)
	}
	rec, _ = j.Get(ctx, id)
	if rec.Status != core.ItemStatusFailed || rec.Error != "boom" || !rec.FinishedAt.Equal(finishedAt) {
		t.Errorf("record after finish = %+v", rec)
	}
}

// TestJournal_GetUnknown verifies the not-found path
func TestJournal_GetUnknown(t *testing.T) {
	j := testJournal(t)

	_, err := j.Get(context.Background(), uuid.New())
	if !errors.Is(err, core.ErrItemNotFound) {
		t.Errorf("Get unknown: err = %v, want ErrItemNotFound", err)
	}
}

// TestJournal_ListFilterAndLimit verifies List ordering and filtering
func TestJournal_ListFilterAndLimit(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		if err := j.RecordEnqueued(ctx, core.ItemRecord{ID: ids[i], Label: "item", Component: "list"}); err != nil {
			t.Fatalf("RecordEnqueued failed: %v", err)
		}
	}
	j.RecordFinished(ctx, ids[2], core.ItemStatusCompleted, "", time.Now())

	all, err := j.List(ctx, core.ItemFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("List all = %d records, want 4", len(all))
	}
	for i := range all {
		if all[i].ID != ids[i] {
			t.Errorf("List order broken at %d", i)
		}
	}

	completed, _ := j.List(ctx, core.ItemFilter{Status: core.ItemStatusCompleted})
	if len(completed) != 1 || completed[0].ID != ids[2] {
		t.Errorf("List COMPLETED = %+v, want the one finished record", completed)
	}

	limited, _ := j.List(ctx, core.ItemFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("List with limit 2 = %d records", len(limited))
	}
}

// TestJournal_QueueIntegration verifies the journal wired into a live queue
func TestJournal_QueueIntegration(t *testing.T) {
	j := testJournal(t)

	exec := make(chan core.Proc, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for proc := range exec {
			proc(context.Background())
		}
	}()
	defer func() {
		close(exec)
		<-done
	}()

	queue := core.NewOrderedDomainQueue(chanExecutor(exec), core.WithQueueName("redis-backed"), core.WithQueueJournal(j))
	queue.StartConsuming()

	item := core.NewWorkItem("persisted", func(ctx context.Context) (any, error) { return nil, nil })
	reply, err := queue.Enqueue(item)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-reply

	rec, err := j.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("journal Get failed: %v", err)
	}
	if rec.Status != core.ItemStatusCompleted {
		t.Errorf("journal status = %s, want COMPLETED", rec.Status)
	}
}

// chanExecutor adapts a Proc channel to core.Executor for tests.
type chanExecutor chan core.Proc

func (e chanExecutor) Post(proc core.Proc) bool {
	e <- proc
	return true
}
func (e chanExecutor) Start(ctx context.Context) {}
func (e chanExecutor) Stop()                     {}
func (e chanExecutor) ID() string                { return "chan" }
func (e chanExecutor) IsRunning() bool           { return true }
func (e chanExecutor) WorkerCount() int          { return 1 }
func (e chanExecutor) QueuedCount() int          { return len(e) }
func (e chanExecutor) ActiveCount() int          { return 0 }

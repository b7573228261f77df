package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	core "github.com/isokit/isokit/core"
)

func makeItems(n int, op func(index int) core.Op) []core.WorkItem {
	items := make([]core.WorkItem, n)
	for i := 0; i < n; i++ {
		items[i] = core.NewWorkItem(fmt.Sprintf("item-%d", i), op(i))
	}
	return items
}

// TestBoundedTaskPool_ConstructorPanics verifies programmer-error guards
func TestBoundedTaskPool_ConstructorPanics(t *testing.T) {
	exec := newSerialExecutor()
	defer exec.Stop()

	cases := []struct {
		name string
		fn   func()
	}{
		{"nil executor", func() { core.NewBoundedTaskPool(nil, 4) }},
		{"zero capacity", func() { core.NewBoundedTaskPool(exec, 0) }},
		{"negative capacity", func() { core.NewBoundedTaskPool(exec, -3) }},
		{"excessive capacity", func() { core.NewBoundedTaskPool(exec, 10001) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: expected panic", tc.name)
				}
			}()
			tc.fn()
		})
	}
}

// TestBoundedTaskPool_ConcurrencyCeiling verifies the hard cap
// Given: A pool with capacity 3 and 10 slow items
// When: SubmitAll runs the batch
// Then: Observed concurrency never exceeds 3 and all 10 results arrive
func TestBoundedTaskPool_ConcurrencyCeiling(t *testing.T) {
	pool := startedPool(t, 8)
	taskPool := core.NewBoundedTaskPool(pool, 3, core.WithPoolName("ceiling"))

	var current, peak atomic.Int32
	items := makeItems(10, func(index int) core.Op {
		return func(ctx context.Context) (any, error) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return index, nil
		}
	})

	results, err := taskPool.SubmitAll(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitAll failed: %v", err)
	}

	if len(results) != 10 {
		t.Fatalf("len(results) = %d, want 10", len(results))
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
	if p := peak.Load(); p < 2 {
		t.Errorf("peak concurrency = %d, want >= 2 (slots must actually overlap)", p)
	}
}

// TestBoundedTaskPool_SlotRefill verifies that freed slots are refilled
// Given: Capacity 2 and 6 items
// When: The batch runs
// Then: Every item eventually runs; SubmitAll does not stop at the first wave
func TestBoundedTaskPool_SlotRefill(t *testing.T) {
	pool := startedPool(t, 4)
	taskPool := core.NewBoundedTaskPool(pool, 2)

	var ran atomic.Int32
	items := makeItems(6, func(index int) core.Op {
		return func(ctx context.Context) (any, error) {
			ran.Add(1)
			return nil, nil
		}
	})

	results, err := taskPool.SubmitAll(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitAll failed: %v", err)
	}
	if got := ran.Load(); got != 6 {
		t.Errorf("ran = %d, want 6", got)
	}
	if len(results) != 6 {
		t.Errorf("len(results) = %d, want 6", len(results))
	}
}

// TestBoundedTaskPool_CapacityOneIsSerial verifies degenerate serial mode
// Given: Capacity 1 and items with uneven durations
// When: The batch runs
// Then: Completion order equals submission order
func TestBoundedTaskPool_CapacityOneIsSerial(t *testing.T) {
	pool := startedPool(t, 4)
	taskPool := core.NewBoundedTaskPool(pool, 1)

	delays := []time.Duration{25 * time.Millisecond, 5 * time.Millisecond, 15 * time.Millisecond}
	items := makeItems(3, func(index int) core.Op {
		return func(ctx context.Context) (any, error) {
			time.Sleep(delays[index])
			return index, nil
		}
	})

	results, err := taskPool.SubmitAll(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitAll failed: %v", err)
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("results[%d].Index = %d, want %d (capacity 1 must serialize)", i, res.Index, i)
		}
	}
}

// TestBoundedTaskPool_IndexPairsResultsToItems verifies completion-order results
// Given: Items returning their own payloads
// When: Results arrive in arbitrary completion order
// Then: Result.Index recovers the original item for every result
func TestBoundedTaskPool_IndexPairsResultsToItems(t *testing.T) {
	pool := startedPool(t, 8)
	taskPool := core.NewBoundedTaskPool(pool, 4)

	items := makeItems(12, func(index int) core.Op {
		return func(ctx context.Context) (any, error) {
			time.Sleep(time.Duration(index%3) * 5 * time.Millisecond)
			return index * 100, nil
		}
	})

	results, err := taskPool.SubmitAll(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitAll failed: %v", err)
	}

	seen := make(map[int]bool)
	for _, res := range results {
		if seen[res.Index] {
			t.Errorf("duplicate result for index %d", res.Index)
		}
		seen[res.Index] = true
		if res.Value != res.Index*100 {
			t.Errorf("results pairing broken: Index %d carries Value %v", res.Index, res.Value)
		}
		if res.Label != items[res.Index].Label {
			t.Errorf("results pairing broken: Index %d carries Label %q", res.Index, res.Label)
		}
	}
	if len(seen) != 12 {
		t.Errorf("got results for %d distinct items, want 12", len(seen))
	}
}

// TestBoundedTaskPool_FailureIsolation verifies per-item failure capture
// Given: A batch where one item errors and one panics
// When: SubmitAll runs
// Then: SubmitAll succeeds, failures live only in their own Results
func TestBoundedTaskPool_FailureIsolation(t *testing.T) {
	pool := startedPool(t, 4)
	taskPool := core.NewBoundedTaskPool(pool, 2)

	boom := errors.New("boom")
	items := []core.WorkItem{
		core.NewWorkItem("ok", func(ctx context.Context) (any, error) { return "fine", nil }),
		core.NewWorkItem("errs", func(ctx context.Context) (any, error) { return nil, boom }),
		core.NewWorkItem("panics", func(ctx context.Context) (any, error) { panic("pool kaboom") }),
		core.NewWorkItem("also-ok", func(ctx context.Context) (any, error) { return "fine too", nil }),
	}

	results, err := taskPool.SubmitAll(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitAll failed: %v (item failures must not fail the batch)", err)
	}
	if len(results) != 4 {
		t.Fatalf("len(results) = %d, want 4", len(results))
	}

	byIndex := make(map[int]core.Result, len(results))
	for _, res := range results {
		byIndex[res.Index] = res
	}
	if byIndex[0].Failed() || byIndex[3].Failed() {
		t.Errorf("healthy siblings failed: %v, %v", byIndex[0].Err, byIndex[3].Err)
	}
	if !errors.Is(byIndex[1].Err, boom) {
		t.Errorf("errs item: Err = %v, want %v", byIndex[1].Err, boom)
	}
	if !core.IsPanic(byIndex[2].Err) {
		t.Errorf("panics item: Err = %v, want PanicError", byIndex[2].Err)
	}

	stats := taskPool.Stats()
	if stats.Completed != 4 {
		t.Errorf("Stats().Completed = %d, want 4", stats.Completed)
	}
	if stats.Failed != 2 {
		t.Errorf("Stats().Failed = %d, want 2", stats.Failed)
	}
}

// TestBoundedTaskPool_ContextCancellation verifies cooperative cancellation
// Given: A long batch and a context cancelled mid-flight
// When: SubmitAll observes the cancellation
// Then: It returns ctx.Err() with the results collected so far; unstarted
//       items never run
func TestBoundedTaskPool_ContextCancellation(t *testing.T) {
	pool := startedPool(t, 4)
	taskPool := core.NewBoundedTaskPool(pool, 2)

	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	release := make(chan struct{})

	items := makeItems(10, func(index int) core.Op {
		return func(ctx context.Context) (any, error) {
			started.Add(1)
			select {
			case <-release:
				return index, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	})

	var (
		results []core.Result
		err     error
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results, err = taskPool.SubmitAll(ctx, items)
	}()

	// Let the first wave occupy the slots, then cancel
	deadline := time.Now().Add(2 * time.Second)
	for started.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	close(release)
	wg.Wait()

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("SubmitAll err = %v, want context.Canceled", err)
	}
	if got := int(started.Load()); got >= 10 {
		t.Errorf("%d items started, want fewer than 10 after cancellation", got)
	}
	if len(results) != int(started.Load()) {
		t.Errorf("len(results) = %d, want %d (every started item must still report)", len(results), started.Load())
	}
}

// TestBoundedTaskPool_EmptyBatch verifies the trivial case
func TestBoundedTaskPool_EmptyBatch(t *testing.T) {
	exec := newSerialExecutor()
	defer exec.Stop()
	taskPool := core.NewBoundedTaskPool(exec, 4)

	results, err := taskPool.SubmitAll(context.Background(), nil)
	if err != nil {
		t.Errorf("SubmitAll(nil) err = %v, want nil", err)
	}
	if results != nil {
		t.Errorf("SubmitAll(nil) results = %v, want nil", results)
	}
}

// TestBoundedTaskPool_StartLimiter verifies token-bucket pacing of slot starts
// Given: A limiter allowing ~20 starts/second with burst 1
// When: 4 trivial items run through capacity 4
// Then: The batch takes at least the pacing interval for the later starts
func TestBoundedTaskPool_StartLimiter(t *testing.T) {
	pool := startedPool(t, 4)
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	taskPool := core.NewBoundedTaskPool(pool, 4, core.WithStartLimiter(limiter))

	items := makeItems(4, func(index int) core.Op {
		return func(ctx context.Context) (any, error) { return nil, nil }
	})

	startAt := time.Now()
	results, err := taskPool.SubmitAll(context.Background(), items)
	elapsed := time.Since(startAt)

	if err != nil {
		t.Fatalf("SubmitAll failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("len(results) = %d, want 4", len(results))
	}
	// First start is free (burst 1); three more pay ~50ms each. Generous lower
	// bound to stay robust on loaded machines.
	if elapsed < 100*time.Millisecond {
		t.Errorf("batch finished in %v, want >= 100ms with the start limiter", elapsed)
	}
}

// TestBoundedTaskPool_StartLimiterFailureAborts verifies limiter errors surface
// Given: A limiter with burst 0, which can never hand out a start token
// When: SubmitAll runs a 4-item batch
// Then: The call returns a non-nil error instead of silently reporting an
//
//	empty, error-free batch
func TestBoundedTaskPool_StartLimiterFailureAborts(t *testing.T) {
	// Arrange
	pool := startedPool(t, 4)
	limiter := rate.NewLimiter(1, 0)
	taskPool := core.NewBoundedTaskPool(pool, 2, core.WithStartLimiter(limiter))

	items := makeItems(4, func(index int) core.Op {
		return func(ctx context.Context) (any, error) { return nil, nil }
	})

	// Act
	results, err := taskPool.SubmitAll(context.Background(), items)

	// Assert
	if err == nil {
		t.Fatalf("SubmitAll = (%d results, nil error), want a limiter error", len(results))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want the limiter's own error, not a context error", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0 (no item can ever start)", len(results))
	}
}

// TestBoundedTaskPool_NilOpPanics verifies the batch-level guard
func TestBoundedTaskPool_NilOpPanics(t *testing.T) {
	exec := newSerialExecutor()
	defer exec.Stop()
	taskPool := core.NewBoundedTaskPool(exec, 2)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil Op")
		}
	}()
	taskPool.SubmitAll(context.Background(), []core.WorkItem{{Label: "broken"}})
}

// TestBoundedTaskPool_StatsAndHistory verifies the observability surface
func TestBoundedTaskPool_StatsAndHistory(t *testing.T) {
	pool := startedPool(t, 4)
	journal := core.NewMemoryJournal()
	taskPool := core.NewBoundedTaskPool(pool, 2,
		core.WithPoolName("observed"),
		core.WithPoolJournal(journal),
	)

	items := makeItems(5, func(index int) core.Op {
		return func(ctx context.Context) (any, error) {
			if index == 2 {
				return nil, errors.New("planned failure")
			}
			return nil, nil
		}
	})
	if _, err := taskPool.SubmitAll(context.Background(), items); err != nil {
		t.Fatalf("SubmitAll failed: %v", err)
	}

	stats := taskPool.Stats()
	if stats.Name != "observed" || stats.Capacity != 2 {
		t.Errorf("Stats() = %+v, want Name=observed Capacity=2", stats)
	}
	if stats.Submitted != 5 || stats.Completed != 5 || stats.Failed != 1 {
		t.Errorf("Stats() counters = %+v, want Submitted=5 Completed=5 Failed=1", stats)
	}
	if stats.Running != 0 {
		t.Errorf("Stats().Running = %d, want 0 after the batch", stats.Running)
	}

	recent := taskPool.RecentItems(10)
	if len(recent) != 5 {
		t.Errorf("RecentItems returned %d records, want 5", len(recent))
	}

	failed, err := journal.List(context.Background(), core.ItemFilter{Status: core.ItemStatusFailed})
	if err != nil {
		t.Fatalf("journal.List failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("journal FAILED records = %d, want 1", len(failed))
	}
}

// TestBoundedTaskPool_ExecutorRejectionFailsItems verifies batch completion
// when the executor refuses work
// Given: An executor rejecting every posted procedure
// When: SubmitAll runs a 5-item batch
// Then: The call returns one result per item, each failed with
//
//	ErrExecutorStopped, instead of hanging on completions that never come
func TestBoundedTaskPool_ExecutorRejectionFailsItems(t *testing.T) {
	// Arrange
	exec := &flakyExecutor{serialExecutor: newSerialExecutor()}
	defer exec.Stop()
	exec.rejecting.Store(true)

	taskPool := core.NewBoundedTaskPool(exec, 2, core.WithPoolName("rejected-batch"))
	items := makeItems(5, func(index int) core.Op {
		return func(ctx context.Context) (any, error) {
			t.Error("rejected item must not run")
			return nil, nil
		}
	})

	// Act
	done := make(chan struct{})
	var results []core.Result
	var err error
	go func() {
		defer close(done)
		results, err = taskPool.SubmitAll(context.Background(), items)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitAll hung on a rejecting executor")
	}

	// Assert
	if err != nil {
		t.Fatalf("SubmitAll failed: %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(items))
	}
	for _, res := range results {
		if !errors.Is(res.Err, core.ErrExecutorStopped) {
			t.Errorf("item %q error = %v, want ErrExecutorStopped", res.Label, res.Err)
		}
	}
}

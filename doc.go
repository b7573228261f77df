// Package isokit provides a cooperative task-isolation model for Go: mutable
// state belongs to exactly one isolation domain, and work crosses the boundary
// only as enqueued or submitted items, never as direct access.
//
// Two components implement the model:
//
// OrderedDomainQueue binds a FIFO backlog to a single consumer loop. Items
// enqueued from any goroutine are processed strictly in enqueue order, one at
// a time, regardless of producer concurrency or item duration. There is no
// priority signal anywhere; deterministic order is traded for responsiveness
// to urgency.
//
// BoundedTaskPool runs independent items under a hard concurrency ceiling,
// refilling each freed slot with the next pending item and collecting results
// in completion order.
//
// # Quick Start
//
// Initialize the global worker pool at application startup:
//
//	isokit.InitGlobalWorkerPool(4) // 4 workers
//	defer isokit.ShutdownGlobalWorkerPool()
//
// Create a domain queue and feed it:
//
//	queue := isokit.NewOrderedDomainQueue(core.WithQueueName("ingest"))
//	queue.StartConsuming()
//	reply, _ := queue.EnqueueFunc("step-1", func(ctx context.Context) (any, error) {
//		// Runs alone; no other item of this domain is executing
//		return 42, nil
//	})
//	res := <-reply
//
// Fan out a batch with a ceiling of 3:
//
//	pool := isokit.NewBoundedTaskPool(3)
//	results, err := pool.SubmitAll(ctx, items)
//
// # Key Concepts
//
// Isolation domain: the boundary within which state may be freely mutated.
// Each OrderedDomainQueue is one domain; its backlog and counters are mutated
// only by its own operations, so callers need no locks for state owned by the
// domain.
//
// Cooperative cancellation: Cancel and context cancellation are observed
// between items and between slot starts. An in-flight operation is never
// preempted; operations needing deadlines must check their context themselves.
//
// GoroutineWorkerPool: the execution engine. Both components post work to a
// core.Executor and never spawn goroutines per item themselves.
//
// # Failure Handling
//
// An item's error or panic is captured into its Result and reported through
// the per-item reply channel (queue) or the collected result slice (pool).
// Item failures never tear down a consumer loop or abort sibling items.
package isokit

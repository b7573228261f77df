package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Executor: the opaque host-scheduler capability
// =============================================================================

// Executor is the primitive the components depend on but do not implement:
// "start this procedure on some worker, eventually". OrderedDomainQueue posts
// its consumer loop to an Executor; BoundedTaskPool posts individual items.
//
// The canonical implementation is isokit.GoroutineWorkerPool.
type Executor interface {
	// Post schedules proc for execution on one of the executor's workers and
	// reports whether it was accepted. A stopped or shutting-down executor
	// rejects procedures; callers must not assume a rejected proc ever runs.
	Post(proc Proc) bool

	Start(ctx context.Context)
	Stop()

	ID() string
	IsRunning() bool

	WorkerCount() int
	QueuedCount() int // Waiting for a worker
	ActiveCount() int // Executing
}

// =============================================================================
// PanicHandler: Interface for handling procedure panics
// =============================================================================

// PanicHandler is called when a posted procedure panics during execution.
// Item panics never reach it; those are captured into the item's Result.
//
// Implementations must be safe for concurrent use.
type PanicHandler interface {
	// HandlePanic receives the executor ID, the worker ID (-1 when unknown),
	// the recovered value and the stack trace captured at recovery time.
	HandlePanic(ctx context.Context, executorID string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, executorID string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("panic recovered",
		F("executor", executorID),
		F("worker", workerID),
		F("panic", fmt.Sprintf("%v", panicInfo)),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics collects execution metrics for queues, pools and executors.
// Implementations can forward to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods must be non-blocking and fast; they run on the hot path.
type Metrics interface {
	// RecordItemDuration records how long an item's operation took.
	RecordItemDuration(component string, duration time.Duration)

	// RecordItemFailure records an item that returned an error or panicked.
	RecordItemFailure(component string)

	// RecordBacklogDepth records the current backlog depth of a component.
	RecordBacklogDepth(component string, depth int)

	// RecordItemRejected records an item rejected before execution
	// (e.g. enqueue after close, post after shutdown).
	RecordItemRejected(component string, reason string)
}

// NilMetrics is the default no-op Metrics implementation.
type NilMetrics struct{}

func (m *NilMetrics) RecordItemDuration(component string, duration time.Duration) {}
func (m *NilMetrics) RecordItemFailure(component string)                          {}
func (m *NilMetrics) RecordBacklogDepth(component string, depth int)              {}
func (m *NilMetrics) RecordItemRejected(component string, reason string)          {}

// =============================================================================
// RejectedItemHandler: Interface for handling rejected procedures
// =============================================================================

// RejectedItemHandler is called when the dispatcher refuses a procedure,
// currently only during shutdown.
//
// Implementations must be safe for concurrent use.
type RejectedItemHandler interface {
	HandleRejectedItem(component string, reason string)
}

// DefaultRejectedItemHandler logs rejections through a Logger.
type DefaultRejectedItemHandler struct {
	Logger Logger
}

func (h *DefaultRejectedItemHandler) HandleRejectedItem(component string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("item rejected", F("component", component), F("reason", reason))
}

// =============================================================================
// DispatcherConfig
// =============================================================================

// DispatcherConfig holds the plug points of a Dispatcher.
// All handlers are optional; nil fields fall back to defaults.
type DispatcherConfig struct {
	// PanicHandler is called when a posted procedure panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics records execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedItemHandler is called when a procedure is rejected. Defaults to DefaultRejectedItemHandler.
	RejectedItemHandler RejectedItemHandler
}

// DefaultDispatcherConfig returns a config with default handlers.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedItemHandler: &DefaultRejectedItemHandler{},
	}
}

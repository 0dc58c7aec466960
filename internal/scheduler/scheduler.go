package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/missionctl/orchestrator/internal/delegate"
	"github.com/missionctl/orchestrator/internal/executor"
	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/state"
)

const (
	defaultMaxConcurrent = 4
	defaultMaxRetries    = 1
)

// Config controls scheduling behavior.
type Config struct {
	// MaxConcurrent bounds how many dispatched tasks execute at once.
	MaxConcurrent int64

	// MaxRetries bounds the failed -> ready retry path per task. Zero means
	// the default of one retry; negative disables retries.
	MaxRetries int

	// Strategy paces retries. Nil means retry immediately.
	Strategy RetryStrategy

	// DefaultTimeout applies to tasks that carry no timeout of their own.
	// Zero means no timeout. A timed-out task is an executor failure, not a
	// distinct error class.
	DefaultTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

// ExecutionScheduler walks the dependency frontier of a mission's task graph
// and drives every task to a terminal status. Dispatches run concurrently up
// to the configured bound; the loop itself is single-threaded and resumes on
// every terminal result (event-driven, no polling).
type ExecutionScheduler struct {
	logger   *zap.Logger
	store    *state.Store
	resolver *delegate.Resolver
	exec     executor.Executor
	cfg      Config

	cancelled atomic.Bool
	sem       *semaphore.Weighted
	results   chan *model.TaskResult

	// Loop-local bookkeeping, touched only by the Run goroutine. unservable
	// records the resolver error per task so finalize can surface the real
	// cause, not just a missing capability.
	inflight   int
	unservable map[string]error
	failures   []*TaskExecutionError
}

// New creates a scheduler over a mission store, a delegation resolver, and a
// task executor.
func New(store *state.Store, resolver *delegate.Resolver, exec executor.Executor, cfg Config, logger *zap.Logger) *ExecutionScheduler {
	cfg.applyDefaults()
	return &ExecutionScheduler{
		logger:     logger.Named("execution-scheduler"),
		store:      store,
		resolver:   resolver,
		exec:       exec,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		unservable: make(map[string]error),
	}
}

// Cancel requests cooperative cancellation: no new tasks are dispatched, and
// in-flight executors see their context cancelled through the Run context.
// Already-running executors may ignore it; that is a documented limitation.
func (s *ExecutionScheduler) Cancel() {
	s.cancelled.Store(true)
}

// Run executes the mission to its terminal state and sets the final mission
// status in the store. It returns nil when every task completed, otherwise
// an error naming the first cause of failure.
func (s *ExecutionScheduler) Run(ctx context.Context) error {
	g := s.store.Graph()
	s.results = make(chan *model.TaskResult, g.Len()+1)

	for {
		if s.cancelled.Load() || ctx.Err() != nil {
			s.cancelled.Store(true)
			if s.inflight == 0 {
				break
			}
			// Drain in-flight dispatches without starting new ones.
			s.handleResult(<-s.results)
			continue
		}

		s.dispatchFrontier(ctx)

		if s.inflight == 0 {
			// Nothing running and nothing dispatchable: either every task is
			// terminal or the rest are structurally blocked.
			break
		}

		select {
		case result := <-s.results:
			s.handleResult(result)
		case <-ctx.Done():
		}
	}

	return s.finalize()
}

// dispatchFrontier re-computes the frontier and dispatches every servable
// task in insertion order.
func (s *ExecutionScheduler) dispatchFrontier(ctx context.Context) {
	g := s.store.Graph()

	frontier := g.Ready()
	for _, task := range g.Tasks() {
		// Retried tasks re-enter dispatch already marked ready.
		if task.Status == model.TaskStatusReady {
			frontier = append(frontier, task)
		}
	}

	for _, task := range frontier {
		if _, skip := s.unservable[task.ID]; skip {
			continue
		}

		worker, err := s.resolver.Resolve(task)
		if err != nil {
			// The task stays pending; the mission cannot complete and the
			// failure surfaces when the loop settles.
			s.unservable[task.ID] = err
			s.store.AppendEvent(model.EventKindError, task.ID, "", err.Error())
			s.logger.Warn("Task cannot be delegated",
				zap.String("task_id", task.ID),
				zap.String("capability", task.RequiredCapability),
				zap.Error(err))
			continue
		}

		if task.Status == model.TaskStatusPending {
			if err := s.store.MarkTask(task.ID, model.TaskStatusReady); err != nil {
				s.logger.Error("Failed to mark task ready", zap.String("task_id", task.ID), zap.Error(err))
				continue
			}
		}
		if err := s.store.MarkTask(task.ID, model.TaskStatusAssigned); err != nil {
			s.logger.Error("Failed to assign task", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		_ = g.Update(task.ID, func(t *model.Task) {
			t.AssignedWorker = worker.Name
		})

		s.store.AppendEvent(model.EventKindDelegate, task.ID, worker.Name,
			fmt.Sprintf("delegated to %s (%s)", worker.Name, task.RequiredCapability))

		attempt := task.Attempts + 1
		s.inflight++
		go s.execute(ctx, task.Clone(), worker, attempt)
	}
}

// execute runs one dispatch attempt and reports its terminal result on the
// results channel. Exactly one result is sent per dispatch.
func (s *ExecutionScheduler) execute(ctx context.Context, task *model.Task, worker *model.Worker, attempt int) {
	report := func(result *model.TaskResult) {
		result.TaskID = task.ID
		result.WorkerName = worker.Name
		if result.CompletedAt.IsZero() {
			result.CompletedAt = time.Now()
		}
		s.results <- result
	}

	if attempt > 1 && s.cfg.Strategy != nil {
		delay := s.cfg.Strategy.NextRetry(attempt - 1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.markRunning(task, worker, attempt)
		report(&model.TaskResult{Status: model.TaskStatusFailed, Error: err.Error()})
		return
	}
	defer s.sem.Release(1)

	s.markRunning(task, worker, attempt)
	s.store.AppendEvent(model.EventKindExecute, task.ID, worker.Name,
		fmt.Sprintf("attempt %d started", attempt))

	execCtx := ctx
	timeout := task.Timeout
	if timeout == 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := s.exec.Execute(execCtx, model.TaskDispatch{
		MissionID:          s.store.MissionID(),
		TaskID:             task.ID,
		WorkerName:         worker.Name,
		RequiredCapability: task.RequiredCapability,
		Description:        task.Description,
		Timeout:            timeout,
	})
	if err != nil {
		report(&model.TaskResult{Status: model.TaskStatusFailed, Error: err.Error()})
		return
	}
	report(result)
}

// markRunning transitions a task to running and updates its bookkeeping and
// the worker's status slice.
func (s *ExecutionScheduler) markRunning(task *model.Task, worker *model.Worker, attempt int) {
	g := s.store.Graph()
	if err := s.store.MarkTask(task.ID, model.TaskStatusRunning); err != nil {
		s.logger.Error("Failed to mark task running", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	now := time.Now()
	_ = g.Update(task.ID, func(t *model.Task) {
		t.Attempts = attempt
		t.StartedAt = &now
	})
	s.store.SetWorkerStatus(worker.Name, model.WorkerStateBusy, task.ID, task.RequiredCapability)
}

// handleResult applies one terminal executor result: completion, retry, or
// permanent failure. Runs on the loop goroutine only.
func (s *ExecutionScheduler) handleResult(result *model.TaskResult) {
	s.inflight--

	g := s.store.Graph()
	task, err := g.Get(result.TaskID)
	if err != nil {
		s.logger.Error("Result for unknown task", zap.String("task_id", result.TaskID))
		return
	}

	if result.Status == model.TaskStatusCompleted {
		now := result.CompletedAt
		_ = g.Update(task.ID, func(t *model.Task) {
			t.Result = result.Result
			t.ErrorMessage = ""
			t.CompletedAt = &now
		})
		if err := s.store.MarkTask(task.ID, model.TaskStatusCompleted); err != nil {
			s.logger.Error("Failed to complete task", zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		s.store.RecordWorkerOutcome(result.WorkerName, false)
		s.store.AppendEvent(model.EventKindComplete, task.ID, result.WorkerName,
			fmt.Sprintf("completed after %d attempt(s)", task.Attempts))
		return
	}

	_ = g.Update(task.ID, func(t *model.Task) {
		t.ErrorMessage = result.Error
	})
	if err := s.store.MarkTask(task.ID, model.TaskStatusFailed); err != nil {
		s.logger.Error("Failed to fail task", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	s.store.RecordWorkerOutcome(result.WorkerName, true)

	maxRetries := s.cfg.MaxRetries
	if task.MaxRetries > 0 {
		maxRetries = task.MaxRetries
	}
	if task.Attempts <= maxRetries && !s.cancelled.Load() {
		s.store.AppendEvent(model.EventKindError, task.ID, result.WorkerName,
			fmt.Sprintf("attempt %d failed, retrying: %s", task.Attempts, result.Error))
		if err := s.store.MarkTask(task.ID, model.TaskStatusReady); err != nil {
			s.logger.Error("Failed to re-open task for retry", zap.String("task_id", task.ID), zap.Error(err))
		}
		return
	}

	s.store.AppendEvent(model.EventKindError, task.ID, result.WorkerName,
		fmt.Sprintf("failed permanently after %d attempt(s): %s", task.Attempts, result.Error))
	s.failures = append(s.failures, &TaskExecutionError{
		TaskID:   task.ID,
		Attempts: task.Attempts,
		Detail:   result.Error,
	})
}

// finalize sets the terminal mission status and returns the matching error.
// The mission is completed only if every task completed.
func (s *ExecutionScheduler) finalize() error {
	g := s.store.Graph()

	if !s.cancelled.Load() && g.AllCompleted() {
		s.store.SetMissionStatus(model.MissionStatusCompleted, "")
		s.logger.Info("Mission completed", zap.String("mission_id", s.store.MissionID()))
		return nil
	}

	s.logger.Warn("Mission did not complete",
		zap.String("mission_id", s.store.MissionID()),
		zap.Any("task_counts", g.CountByStatus()))

	if s.cancelled.Load() {
		s.store.SetMissionStatus(model.MissionStatusFailed, model.FailureReasonCancelled)
		return ErrMissionCancelled
	}

	if len(s.failures) > 0 {
		first := s.failures[0]
		s.store.SetMissionStatus(model.MissionStatusFailed, first.Error())
		return first
	}

	// Deterministic first cause for unservable tasks: insertion order.
	for _, task := range g.Tasks() {
		if cause, ok := s.unservable[task.ID]; ok {
			s.store.SetMissionStatus(model.MissionStatusFailed, cause.Error())
			return cause
		}
	}

	s.store.SetMissionStatus(model.MissionStatusFailed, "tasks blocked by failed dependencies")
	return ErrMissionFailed
}

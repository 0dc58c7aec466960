package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/delegate"
	"github.com/missionctl/orchestrator/internal/executor"
	"github.com/missionctl/orchestrator/internal/graph"
	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/scheduler"
	"github.com/missionctl/orchestrator/internal/state"
	"github.com/missionctl/orchestrator/internal/storage"
)

// Orchestrator is the entry point for mission execution: it validates plans,
// builds the per-mission state, and drives the execution scheduler over a
// fixed worker pool.
type Orchestrator struct {
	logger   *zap.Logger
	resolver *delegate.Resolver
	exec     executor.Executor
	cfg      scheduler.Config

	feed    state.ActivityPublisher
	history storage.MissionHistoryStorage

	mu       sync.Mutex
	missions map[string]*MissionHandle
}

// MissionHandle tracks one running mission. Plan validation happens before
// the handle exists; everything after is observable through Store and Wait.
type MissionHandle struct {
	ID    string
	Store *state.Store

	sched  *scheduler.ExecutionScheduler
	cancel context.CancelFunc

	done chan struct{}
	err  error
}

// Wait blocks until the mission reaches a terminal status and returns the
// mission's final error, nil on completion.
func (h *MissionHandle) Wait() error {
	<-h.done
	return h.err
}

// New creates an orchestrator over a worker pool and a task executor.
func New(workers []*model.Worker, exec executor.Executor, cfg scheduler.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		logger:   logger.Named("orchestrator"),
		resolver: delegate.NewResolver(workers, logger),
		exec:     exec,
		cfg:      cfg,
		missions: make(map[string]*MissionHandle),
	}
}

// SetActivityPublisher mirrors every mission's activity log to an external
// feed. Must be called before StartMission.
func (o *Orchestrator) SetActivityPublisher(pub state.ActivityPublisher) {
	o.feed = pub
}

// SetHistory archives terminal mission snapshots. Must be called before
// StartMission.
func (o *Orchestrator) SetHistory(history storage.MissionHistoryStorage) {
	o.history = history
}

// StartMission validates a plan and launches its execution. Validation errors
// are returned synchronously as *ValidationError and leave no mission behind;
// execution errors surface through MissionHandle.Wait.
func (o *Orchestrator) StartMission(ctx context.Context, plan model.Plan) (*MissionHandle, error) {
	g, err := o.buildGraph(plan)
	if err != nil {
		return nil, err
	}

	mission := model.Mission{
		ID:        uuid.New().String(),
		Name:      plan.Name,
		Status:    model.MissionStatusIdle,
		StartedAt: time.Now(),
	}

	store := state.NewStore(mission, g, o.resolver.Workers(), o.logger)
	if o.feed != nil {
		store.SetActivityPublisher(o.feed)
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &MissionHandle{
		ID:     mission.ID,
		Store:  store,
		sched:  scheduler.New(store, o.resolver, o.exec, o.cfg, o.logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	o.missions[mission.ID] = handle
	o.mu.Unlock()

	// The mission walks idle -> planning -> executing so observers see the
	// full lifecycle in the activity feed.
	store.SetMissionStatus(model.MissionStatusPlanning, "")
	store.AppendEvent(model.EventKindPlan, "", "",
		fmt.Sprintf("plan %q accepted with %d task(s)", plan.Name, len(plan.Tasks)))
	store.SetMissionStatus(model.MissionStatusExecuting, "")

	o.logger.Info("Mission started",
		zap.String("mission_id", mission.ID),
		zap.String("name", plan.Name),
		zap.Int("tasks", len(plan.Tasks)))

	go o.run(runCtx, handle)
	return handle, nil
}

// CancelMission requests cooperative cancellation of a running mission.
// Cancelling an unknown or already-terminal mission is an error.
func (o *Orchestrator) CancelMission(missionID string) error {
	o.mu.Lock()
	handle, ok := o.missions[missionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}

	o.logger.Info("Cancelling mission", zap.String("mission_id", missionID))
	handle.sched.Cancel()
	handle.cancel()
	return nil
}

// Mission returns the handle of a running mission.
func (o *Orchestrator) Mission(missionID string) (*MissionHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	handle, ok := o.missions[missionID]
	return handle, ok
}

// run drives one mission to its terminal status, archives the outcome, and
// deregisters the mission.
func (o *Orchestrator) run(ctx context.Context, handle *MissionHandle) {
	defer handle.cancel()

	handle.err = handle.sched.Run(ctx)

	if o.history != nil {
		snapshot := handle.Store.Snapshot()
		archiveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.history.Archive(archiveCtx, snapshot); err != nil {
			o.logger.Warn("Failed to archive mission",
				zap.String("mission_id", handle.ID),
				zap.Error(err))
		}
		cancel()
	}

	o.mu.Lock()
	delete(o.missions, handle.ID)
	o.mu.Unlock()

	close(handle.done)
}

// buildGraph validates the plan and assembles its task graph. Any structural
// problem is a *ValidationError.
func (o *Orchestrator) buildGraph(plan model.Plan) (*graph.TaskGraph, error) {
	if len(plan.Tasks) == 0 {
		return nil, &ValidationError{Detail: "plan has no tasks"}
	}

	g := graph.New(o.logger)
	for _, pt := range plan.Tasks {
		if pt.ID == "" {
			return nil, &ValidationError{Detail: "task with empty id"}
		}
		if pt.RequiredCapability == "" {
			return nil, &ValidationError{Detail: fmt.Sprintf("task %s has no required capability", pt.ID)}
		}
		if !o.resolver.KnownCapability(pt.RequiredCapability) {
			return nil, &ValidationError{
				Detail: fmt.Sprintf("task %s requires capability %q held by no worker", pt.ID, pt.RequiredCapability),
			}
		}

		task := &model.Task{
			ID:                 pt.ID,
			Description:        pt.Description,
			RequiredCapability: pt.RequiredCapability,
			DependsOn:          append([]string(nil), pt.DependsOn...),
			Status:             model.TaskStatusPending,
			MaxRetries:         pt.MaxRetries,
			Timeout:            pt.Timeout,
			CreatedAt:          time.Now(),
		}
		if err := g.Add(task); err != nil {
			return nil, &ValidationError{Detail: fmt.Sprintf("task %s rejected", pt.ID), Err: err}
		}
	}

	// Add only sees dependencies declared so far; a full pass catches unknown
	// references and cycles across the whole plan.
	if _, err := g.Order(); err != nil {
		return nil, &ValidationError{Detail: "plan is not a valid dependency graph", Err: err}
	}
	return g, nil
}

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
)

// RecurringMissions launches the same mission plan on a cron expression.
// Each firing goes through the ordinary StartMission path, so validation and
// history archiving apply to recurring launches too.
type RecurringMissions struct {
	logger *zap.Logger
	orch   *Orchestrator
	cron   *cron.Cron

	// mu guards the schedule records: cron firings update run times while
	// callers read through Get and List.
	mu        sync.Mutex
	schedules map[string]*model.RecurringMission
	entryIDs  map[string]cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewRecurringMissions creates a recurring mission scheduler over an
// orchestrator.
func NewRecurringMissions(orch *Orchestrator, logger *zap.Logger) *RecurringMissions {
	named := logger.Named("recurring-missions")
	options := []cron.Option{
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(&cronLogger{logger: named})),
	}

	return &RecurringMissions{
		logger:    named,
		orch:      orch,
		cron:      cron.New(options...),
		schedules: make(map[string]*model.RecurringMission),
		entryIDs:  make(map[string]cron.EntryID),
	}
}

// Start starts firing registered schedules.
func (r *RecurringMissions) Start() {
	r.cron.Start()
}

// Stop stops the scheduler and waits for in-flight firings to return.
// Missions already launched keep running.
func (r *RecurringMissions) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Add registers a recurring mission. The plan is validated on every firing,
// but the cron expression is validated here. The registry keeps its own copy
// of the schedule; the caller's struct is not written to after Add returns.
func (r *RecurringMissions) Add(schedule *model.RecurringMission) error {
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now()
	}
	schedule.UpdatedAt = time.Now()

	specParser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	spec, err := specParser.Parse(schedule.Expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	next := spec.Next(time.Now())
	schedule.NextRunTime = &next

	stored := schedule.Clone()

	r.mu.Lock()
	r.schedules[stored.ID] = stored
	r.mu.Unlock()

	entryID, err := r.cron.AddJob(stored.Expression, &recurringJob{
		scheduler:  r,
		scheduleID: stored.ID,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.schedules, stored.ID)
		r.mu.Unlock()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	r.mu.Lock()
	r.entryIDs[stored.ID] = entryID
	r.mu.Unlock()

	r.logger.Info("Added recurring mission",
		zap.String("id", stored.ID),
		zap.String("name", stored.Name),
		zap.String("expression", stored.Expression),
		zap.Time("next_run", next))

	return nil
}

// Remove deregisters a recurring mission. Missions already launched keep
// running.
func (r *RecurringMissions) Remove(id string) error {
	r.mu.Lock()
	entryID, ok := r.entryIDs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("recurring mission not found: %s", id)
	}
	delete(r.entryIDs, id)
	delete(r.schedules, id)
	r.mu.Unlock()

	r.cron.Remove(entryID)

	r.logger.Info("Removed recurring mission", zap.String("id", id))
	return nil
}

// Get returns a copy of a registered recurring mission by id.
func (r *RecurringMissions) Get(id string) (*model.RecurringMission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	schedule, ok := r.schedules[id]
	if !ok {
		return nil, fmt.Errorf("recurring mission not found: %s", id)
	}
	return schedule.Clone(), nil
}

// List returns copies of all registered recurring missions.
func (r *RecurringMissions) List() []*model.RecurringMission {
	r.mu.Lock()
	defer r.mu.Unlock()

	schedules := make([]*model.RecurringMission, 0, len(r.schedules))
	for _, schedule := range r.schedules {
		schedules = append(schedules, schedule.Clone())
	}
	return schedules
}

// recurringJob implements cron.Job
type recurringJob struct {
	scheduler  *RecurringMissions
	scheduleID string
}

// Run implements cron.Job. A firing that fails validation is logged and
// skipped; the schedule stays registered for the next firing.
func (j *recurringJob) Run() {
	r := j.scheduler
	now := time.Now()

	r.mu.Lock()
	schedule, ok := r.schedules[j.scheduleID]
	if !ok {
		// Removed between firing and execution.
		r.mu.Unlock()
		return
	}
	schedule.LastRunTime = &now

	specParser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if spec, err := specParser.Parse(schedule.Expression); err == nil {
		next := spec.Next(now)
		schedule.NextRunTime = &next
	}

	id := schedule.ID
	name := schedule.Name
	plan := schedule.Clone().Plan
	r.mu.Unlock()

	handle, err := r.orch.StartMission(context.Background(), plan)
	if err != nil {
		r.logger.Error("Recurring mission rejected",
			zap.String("id", id),
			zap.String("name", name),
			zap.Error(err))
		return
	}

	r.logger.Info("Launched recurring mission",
		zap.String("id", id),
		zap.String("mission_id", handle.ID),
		zap.Time("fired_at", now))

	go func() {
		if err := handle.Wait(); err != nil {
			r.logger.Warn("Recurring mission failed",
				zap.String("id", id),
				zap.String("mission_id", handle.ID),
				zap.Error(err))
		}
	}()
}

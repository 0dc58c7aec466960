package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/graph"
	"github.com/missionctl/orchestrator/internal/model"
)

// Scope identifies a slice of mission state a subscriber is interested in.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeMission  Scope = "mission"
	ScopeTasks    Scope = "tasks"
	ScopeActivity Scope = "activity"
)

// ScopeWorker returns the scope for a single worker's status slice.
func ScopeWorker(name string) Scope {
	return Scope("worker:" + name)
}

// Update is pushed to subscribers after each committed mutation.
type Update struct {
	MissionID string
	Scope     Scope
	Snapshot  *Snapshot
}

// Snapshot is a consistent, fully-copied view of mission state. Readers never
// observe a snapshot where the mission is completed while a task is not.
type Snapshot struct {
	Mission     model.Mission
	Tasks       []*model.Task
	Workers     map[string]*model.WorkerStatus
	ActivityLog []model.ActivityEvent
}

// ActivityPublisher mirrors committed activity events to an external feed.
type ActivityPublisher interface {
	PublishEvent(event model.ActivityEvent) error
}

// MissionState is the mutable state guarded by the store. Mutation functions
// receive it under the store lock.
type MissionState struct {
	Mission model.Mission
	Graph   *graph.TaskGraph
	Workers map[string]*model.WorkerStatus
	Log     []model.ActivityEvent
}

// Store is the single source of truth for one mission. Every mutation goes
// through Apply, which serializes writers and notifies subscribers exactly
// once per committed update.
type Store struct {
	logger *zap.Logger

	mu    sync.Mutex
	state MissionState

	subMu sync.RWMutex
	subs  map[Scope][]chan Update

	feed ActivityPublisher
}

// NewStore creates a store owning the given mission and its task graph.
func NewStore(mission model.Mission, g *graph.TaskGraph, workers []*model.Worker, logger *zap.Logger) *Store {
	status := make(map[string]*model.WorkerStatus, len(workers))
	for _, w := range workers {
		status[w.Name] = &model.WorkerStatus{
			Name:      w.Name,
			State:     model.WorkerStateIdle,
			UpdatedAt: time.Now(),
		}
	}

	return &Store{
		logger: logger.Named("mission-store"),
		state: MissionState{
			Mission: mission,
			Graph:   g,
			Workers: status,
		},
		subs: make(map[Scope][]chan Update),
	}
}

// SetActivityPublisher attaches an external feed. Events committed after this
// call are mirrored to it; publish failures are logged, never propagated.
func (s *Store) SetActivityPublisher(pub ActivityPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = pub
}

// Subscribe registers interest in a state slice. The returned channel
// receives an Update after every committed mutation touching that slice.
// Notification is non-blocking: if the channel buffer is full the update is
// dropped for that subscriber.
func (s *Store) Subscribe(scope Scope, bufSize int) <-chan Update {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Update, bufSize)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs[scope] = append(s.subs[scope], ch)
	return ch
}

// Apply runs a mutation atomically and notifies subscribers of the changed
// scopes once the mutation is fully committed. No partial update is ever
// observable.
func (s *Store) Apply(fn func(ms *MissionState) []Scope) {
	s.mu.Lock()
	changed := fn(&s.state)
	snapshot := s.snapshotLocked()
	missionID := s.state.Mission.ID
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	s.notify(missionID, changed, snapshot)
}

// Snapshot returns a consistent copy of the current state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Graph exposes the mission's task graph. The graph must only be mutated
// through store mutation paths.
func (s *Store) Graph() *graph.TaskGraph {
	return s.state.Graph
}

// MissionID returns the id of the mission this store owns.
func (s *Store) MissionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Mission.ID
}

// MarkTask transitions a task through the graph and notifies task
// subscribers. Transition validation errors propagate to the caller.
func (s *Store) MarkTask(taskID string, status model.TaskStatus) error {
	s.mu.Lock()
	err := s.state.Graph.MarkStatus(taskID, status)
	snapshot := s.snapshotLocked()
	missionID := s.state.Mission.ID
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(missionID, []Scope{ScopeTasks}, snapshot)
	return nil
}

// SetMissionStatus updates the overall mission status. Reason is recorded for
// failed missions only.
func (s *Store) SetMissionStatus(status model.MissionStatus, reason string) {
	s.Apply(func(ms *MissionState) []Scope {
		ms.Mission.Status = status
		if status == model.MissionStatusFailed {
			ms.Mission.FailureReason = reason
		}
		if status == model.MissionStatusCompleted || status == model.MissionStatusFailed {
			now := time.Now()
			ms.Mission.CompletedAt = &now
		}
		return []Scope{ScopeMission}
	})
}

// SetWorkerStatus updates one worker's status slice. Only subscribers scoped
// to that worker (and ScopeAll) are notified, bounding notification cost
// independent of mission size.
func (s *Store) SetWorkerStatus(name string, state model.WorkerState, taskID, capability string) {
	s.Apply(func(ms *MissionState) []Scope {
		ws, ok := ms.Workers[name]
		if !ok {
			ws = &model.WorkerStatus{Name: name}
			ms.Workers[name] = ws
		}
		ws.State = state
		ws.CurrentTask = taskID
		ws.Capability = capability
		ws.UpdatedAt = time.Now()
		return []Scope{ScopeWorker(name)}
	})
}

// RecordWorkerOutcome bumps a worker's done/failed counters and returns it to
// idle.
func (s *Store) RecordWorkerOutcome(name string, failed bool) {
	s.Apply(func(ms *MissionState) []Scope {
		ws, ok := ms.Workers[name]
		if !ok {
			return nil
		}
		if failed {
			ws.TasksFailed++
		} else {
			ws.TasksDone++
		}
		ws.State = model.WorkerStateIdle
		ws.CurrentTask = ""
		ws.Capability = ""
		ws.UpdatedAt = time.Now()
		return []Scope{ScopeWorker(name)}
	})
}

// AppendEvent appends to the activity log. Append order is chronological
// order; the log is never reordered or truncated mid-mission.
func (s *Store) AppendEvent(kind model.EventKind, taskID, workerName, message string) model.ActivityEvent {
	event := model.ActivityEvent{
		ID:         uuid.New().String(),
		Kind:       kind,
		TaskID:     taskID,
		WorkerName: workerName,
		Message:    message,
		Timestamp:  time.Now(),
	}

	s.mu.Lock()
	event.MissionID = s.state.Mission.ID
	s.state.Log = append(s.state.Log, event)
	snapshot := s.snapshotLocked()
	feed := s.feed
	s.mu.Unlock()

	s.notify(event.MissionID, []Scope{ScopeActivity}, snapshot)

	if feed != nil {
		if err := feed.PublishEvent(event); err != nil {
			s.logger.Warn("Failed to publish activity event",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	return event
}

// snapshotLocked deep-copies the state. Caller holds s.mu.
func (s *Store) snapshotLocked() *Snapshot {
	workers := make(map[string]*model.WorkerStatus, len(s.state.Workers))
	for name, ws := range s.state.Workers {
		cp := *ws
		workers[name] = &cp
	}

	return &Snapshot{
		Mission:     s.state.Mission,
		Tasks:       s.state.Graph.Tasks(),
		Workers:     workers,
		ActivityLog: append([]model.ActivityEvent(nil), s.state.Log...),
	}
}

// notify pushes an update to subscribers of each changed scope and to
// ScopeAll subscribers.
func (s *Store) notify(missionID string, changed []Scope, snapshot *Snapshot) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	send := func(scope Scope, channels []chan Update) {
		update := Update{MissionID: missionID, Scope: scope, Snapshot: snapshot}
		for _, ch := range channels {
			select {
			case ch <- update:
			default:
				// Subscriber is behind; drop rather than block the writer.
			}
		}
	}

	for _, scope := range changed {
		send(scope, s.subs[scope])
		send(scope, s.subs[ScopeAll])
	}
}

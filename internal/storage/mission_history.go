package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/state"
)

// MissionRecord is an archived mission outcome, retained for audit after
// mission teardown.
type MissionRecord struct {
	ID             string              `json:"id"`
	MissionID      string              `json:"mission_id"`
	Name           string              `json:"name"`
	Status         model.MissionStatus `json:"status"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	TaskCount      int                 `json:"task_count"`
	TasksCompleted int                 `json:"tasks_completed"`
	TasksFailed    int                 `json:"tasks_failed"`
	StartedAt      time.Time           `json:"started_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// TaskRecord is one archived task outcome belonging to a mission record.
type TaskRecord struct {
	MissionID      string           `json:"mission_id"`
	TaskID         string           `json:"task_id"`
	Description    string           `json:"description"`
	Capability     string           `json:"capability"`
	Status         model.TaskStatus `json:"status"`
	AssignedWorker string           `json:"assigned_worker,omitempty"`
	Attempts       int              `json:"attempts"`
	Error          string           `json:"error,omitempty"`
}

// MissionHistoryStorage defines the interface for the mission archive
type MissionHistoryStorage interface {
	// Archive stores a terminal mission snapshot with its task outcomes
	Archive(ctx context.Context, snapshot *state.Snapshot) error

	// GetMission retrieves an archived mission by mission id
	GetMission(ctx context.Context, missionID string) (*MissionRecord, error)

	// ListMissions retrieves archived missions, newest first
	ListMissions(ctx context.Context, status model.MissionStatus, offset, limit int) ([]*MissionRecord, error)

	// ListTasks retrieves the archived task outcomes of a mission
	ListTasks(ctx context.Context, missionID string) ([]*TaskRecord, error)

	// DeleteBefore deletes archives of missions started before the given time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteMissionHistory implements MissionHistoryStorage using SQLite
type SQLiteMissionHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteMissionHistory opens (or creates) a SQLite-backed archive.
func NewSQLiteMissionHistory(logger *zap.Logger, dbPath string) (*SQLiteMissionHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteMissionHistory{
		logger: logger.Named("mission-history"),
		db:     db,
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteMissionHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS mission_history (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT,
			task_count INTEGER NOT NULL,
			tasks_completed INTEGER NOT NULL,
			tasks_failed INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS mission_tasks (
			mission_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			description TEXT,
			capability TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_worker TEXT,
			attempts INTEGER NOT NULL,
			error TEXT,
			PRIMARY KEY (mission_id, task_id)
		);
		CREATE INDEX IF NOT EXISTS idx_mission_history_mission_id ON mission_history(mission_id);
		CREATE INDEX IF NOT EXISTS idx_mission_history_status ON mission_history(status);
		CREATE INDEX IF NOT EXISTS idx_mission_history_started_at ON mission_history(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Archive implements MissionHistoryStorage.Archive
func (s *SQLiteMissionHistory) Archive(ctx context.Context, snapshot *state.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	completed, failed := 0, 0
	for _, task := range snapshot.Tasks {
		switch task.Status {
		case model.TaskStatusCompleted:
			completed++
		case model.TaskStatusFailed:
			failed++
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mission_history (
			id, mission_id, name, status, failure_reason,
			task_count, tasks_completed, tasks_failed, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		snapshot.Mission.ID,
		snapshot.Mission.Name,
		snapshot.Mission.Status,
		sql.NullString{String: snapshot.Mission.FailureReason, Valid: snapshot.Mission.FailureReason != ""},
		len(snapshot.Tasks),
		completed,
		failed,
		snapshot.Mission.StartedAt,
		sql.NullTime{Time: derefTime(snapshot.Mission.CompletedAt), Valid: snapshot.Mission.CompletedAt != nil},
	)
	if err != nil {
		return fmt.Errorf("failed to archive mission: %w", err)
	}

	for _, task := range snapshot.Tasks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mission_tasks (
				mission_id, task_id, description, capability, status,
				assigned_worker, attempts, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshot.Mission.ID,
			task.ID,
			task.Description,
			task.RequiredCapability,
			task.Status,
			sql.NullString{String: task.AssignedWorker, Valid: task.AssignedWorker != ""},
			task.Attempts,
			sql.NullString{String: task.ErrorMessage, Valid: task.ErrorMessage != ""},
		)
		if err != nil {
			return fmt.Errorf("failed to archive task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}

	s.logger.Info("Mission archived",
		zap.String("mission_id", snapshot.Mission.ID),
		zap.String("status", string(snapshot.Mission.Status)),
		zap.Int("tasks", len(snapshot.Tasks)))

	return nil
}

// GetMission implements MissionHistoryStorage.GetMission
func (s *SQLiteMissionHistory) GetMission(ctx context.Context, missionID string) (*MissionRecord, error) {
	var record MissionRecord
	var failureReason sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, mission_id, name, status, failure_reason,
			task_count, tasks_completed, tasks_failed, started_at, completed_at
		FROM mission_history
		WHERE mission_id = ?`, missionID).Scan(
		&record.ID,
		&record.MissionID,
		&record.Name,
		&record.Status,
		&failureReason,
		&record.TaskCount,
		&record.TasksCompleted,
		&record.TasksFailed,
		&record.StartedAt,
		&completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan mission history: %w", err)
	}

	if failureReason.Valid {
		record.FailureReason = failureReason.String
	}
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}
	return &record, nil
}

// ListMissions implements MissionHistoryStorage.ListMissions
func (s *SQLiteMissionHistory) ListMissions(ctx context.Context, status model.MissionStatus, offset, limit int) ([]*MissionRecord, error) {
	query := `
		SELECT id, mission_id, name, status, failure_reason,
			task_count, tasks_completed, tasks_failed, started_at, completed_at
		FROM mission_history`
	args := make([]interface{}, 0, 3)

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mission history: %w", err)
	}
	defer rows.Close()

	var records []*MissionRecord
	for rows.Next() {
		record := &MissionRecord{}
		var failureReason sql.NullString
		var completedAt sql.NullTime

		err := rows.Scan(
			&record.ID,
			&record.MissionID,
			&record.Name,
			&record.Status,
			&failureReason,
			&record.TaskCount,
			&record.TasksCompleted,
			&record.TasksFailed,
			&record.StartedAt,
			&completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mission history: %w", err)
		}

		if failureReason.Valid {
			record.FailureReason = failureReason.String
		}
		if completedAt.Valid {
			record.CompletedAt = &completedAt.Time
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// ListTasks implements MissionHistoryStorage.ListTasks
func (s *SQLiteMissionHistory) ListTasks(ctx context.Context, missionID string) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mission_id, task_id, description, capability, status,
			assigned_worker, attempts, error
		FROM mission_tasks
		WHERE mission_id = ?
		ORDER BY task_id`, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mission tasks: %w", err)
	}
	defer rows.Close()

	var records []*TaskRecord
	for rows.Next() {
		record := &TaskRecord{}
		var worker, errorStr sql.NullString

		err := rows.Scan(
			&record.MissionID,
			&record.TaskID,
			&record.Description,
			&record.Capability,
			&record.Status,
			&worker,
			&record.Attempts,
			&errorStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mission task: %w", err)
		}

		if worker.Valid {
			record.AssignedWorker = worker.String
		}
		if errorStr.Valid {
			record.Error = errorStr.String
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// DeleteBefore implements MissionHistoryStorage.DeleteBefore
func (s *SQLiteMissionHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM mission_tasks WHERE mission_id IN (
			SELECT mission_id FROM mission_history WHERE started_at < ?
		)`, before)
	if err != nil {
		return fmt.Errorf("failed to delete mission tasks: %w", err)
	}

	result, err = s.db.ExecContext(ctx, "DELETE FROM mission_history WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete mission history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old mission archives",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (s *SQLiteMissionHistory) Close() error {
	return s.db.Close()
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

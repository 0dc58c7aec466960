package model

import "time"

// RecurringMission submits the same mission plan on a cron expression.
// Expressions use the six-field form with a seconds column.
type RecurringMission struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Expression  string     `json:"expression"`
	Plan        Plan       `json:"plan"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
}

// Clone returns a deep copy of the recurring mission.
func (r *RecurringMission) Clone() *RecurringMission {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Plan.Tasks = make([]PlanTask, len(r.Plan.Tasks))
	for i, task := range r.Plan.Tasks {
		task.DependsOn = append([]string(nil), task.DependsOn...)
		cp.Plan.Tasks[i] = task
	}
	if r.LastRunTime != nil {
		last := *r.LastRunTime
		cp.LastRunTime = &last
	}
	if r.NextRunTime != nil {
		next := *r.NextRunTime
		cp.NextRunTime = &next
	}
	return &cp
}

package model

import "time"

// WorkerState represents the runtime state of a worker during a mission
type WorkerState string

const (
	WorkerStateIdle WorkerState = "idle"
	WorkerStateBusy WorkerState = "busy"
)

// Worker is a capability-bearing specialist profile. Profiles are loaded once
// at mission start from the registry and are read-only for the mission's
// duration.
type Worker struct {
	Name                string   `json:"name"`
	Capabilities        []string `json:"capabilities"`
	SpecializationScore float64  `json:"specialization_score"`
	DescriptionKeywords []string `json:"description_keywords,omitempty"`
}

// HasCapability reports whether the worker supports the given capability tag.
func (w *Worker) HasCapability(tag string) bool {
	for _, c := range w.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// WorkerStatus is the observable runtime status of a worker
type WorkerStatus struct {
	Name        string      `json:"name"`
	State       WorkerState `json:"state"`
	CurrentTask string      `json:"current_task,omitempty"`
	Capability  string      `json:"capability,omitempty"`
	TasksDone   int         `json:"tasks_done"`
	TasksFailed int         `json:"tasks_failed"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

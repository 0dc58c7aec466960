package orchestrator

import (
	"errors"
	"fmt"
)

// ErrMissionNotFound reports a lookup or cancel against an unknown or
// already-terminal mission.
var ErrMissionNotFound = errors.New("mission not found")

// ValidationError reports a rejected mission plan. Rejection happens before
// any task is dispatched; no partial mission state is left behind.
type ValidationError struct {
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid mission plan: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("invalid mission plan: %s", e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

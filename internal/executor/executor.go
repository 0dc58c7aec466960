package executor

import (
	"context"

	"github.com/missionctl/orchestrator/internal/model"
)

// Executor is the external collaborator that actually performs an assigned
// task. The core issues one dispatch per assignment and expects exactly one
// terminal result. Implementations may complete asynchronously and out of
// order relative to dispatch order.
type Executor interface {
	Execute(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error)
}

// Handler performs the work for one capability tag in-process.
type Handler interface {
	Execute(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error) {
	return f(ctx, dispatch)
}

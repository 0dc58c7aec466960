package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
)

// LocalExecutor runs dispatches in-process through a registry of handlers
// keyed by capability tag.
type LocalExecutor struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocalExecutor creates an executor with an empty handler registry.
func NewLocalExecutor(logger *zap.Logger) *LocalExecutor {
	return &LocalExecutor{
		logger:   logger.Named("local-executor"),
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler registers a handler for a capability tag. Registering the
// same tag twice replaces the handler.
func (e *LocalExecutor) RegisterHandler(capability string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[capability] = handler
}

// Capabilities returns the registered capability tags.
func (e *LocalExecutor) Capabilities() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tags := make([]string, 0, len(e.handlers))
	for tag := range e.handlers {
		tags = append(tags, tag)
	}
	return tags
}

// Execute looks up the handler for the dispatch's capability and runs it.
// A handler error becomes a failed TaskResult rather than propagating; only
// a missing handler is an executor-level error.
func (e *LocalExecutor) Execute(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error) {
	e.mu.RLock()
	handler, ok := e.handlers[dispatch.RequiredCapability]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no handler registered for capability %q", dispatch.RequiredCapability)
	}

	e.logger.Info("Executing task",
		zap.String("task_id", dispatch.TaskID),
		zap.String("worker", dispatch.WorkerName),
		zap.String("capability", dispatch.RequiredCapability))

	result, err := handler.Execute(ctx, dispatch)
	if err != nil {
		return &model.TaskResult{
			TaskID:      dispatch.TaskID,
			WorkerName:  dispatch.WorkerName,
			Status:      model.TaskStatusFailed,
			Error:       err.Error(),
			CompletedAt: time.Now(),
		}, nil
	}

	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}
	result.TaskID = dispatch.TaskID
	result.WorkerName = dispatch.WorkerName
	return result, nil
}

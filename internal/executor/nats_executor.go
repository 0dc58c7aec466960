package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
)

const (
	dispatchStreamName = "MISSIONS"
	dispatchSubject    = "mission.dispatch"
	resultSubject      = "mission.result.%s"
	streamMaxAge       = 24 * time.Hour
)

// NATSExecutor bridges dispatches to remote worker processes over JetStream.
// Each dispatch is published to mission.dispatch; the remote side reports
// exactly one terminal result on mission.result.<taskID>.
type NATSExecutor struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATSExecutor creates the bridge and ensures the mission stream exists.
func NewNATSExecutor(js nats.JetStreamContext, logger *zap.Logger) (*NATSExecutor, error) {
	e := &NATSExecutor{
		js:     js,
		logger: logger.Named("nats-executor"),
	}
	if err := e.setupStream(); err != nil {
		return nil, fmt.Errorf("failed to setup mission stream: %w", err)
	}
	return e, nil
}

func (e *NATSExecutor) setupStream() error {
	_, err := e.js.AddStream(&nats.StreamConfig{
		Name:     dispatchStreamName,
		Subjects: []string{"mission.dispatch", "mission.result.*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  -1,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			e.logger.Info("Stream already exists", zap.String("stream", dispatchStreamName))
			return nil
		}
		return err
	}
	e.logger.Info("Stream created", zap.String("stream", dispatchStreamName))
	return nil
}

// Execute publishes the dispatch and blocks until the first terminal result
// for the task arrives or the context ends. Later duplicates on the result
// subject are ignored.
func (e *NATSExecutor) Execute(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error) {
	resultCh := make(chan *model.TaskResult, 1)

	// Subscribe before publishing so the result cannot slip past us. The
	// consumer starts at new messages only: the stream persists results, and
	// a retried task must not receive the previous attempt's outcome.
	sub, err := e.js.Subscribe(fmt.Sprintf(resultSubject, dispatch.TaskID), func(msg *nats.Msg) {
		var result model.TaskResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			e.logger.Error("Failed to unmarshal task result",
				zap.String("task_id", dispatch.TaskID),
				zap.Error(err))
			return
		}
		select {
		case resultCh <- &result:
		default:
		}
	}, nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to task result: %w", err)
	}
	defer sub.Unsubscribe()

	data, err := json.Marshal(dispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatch: %w", err)
	}
	if _, err := e.js.Publish(dispatchSubject, data); err != nil {
		return nil, fmt.Errorf("failed to publish dispatch: %w", err)
	}

	e.logger.Info("Dispatch published",
		zap.String("task_id", dispatch.TaskID),
		zap.String("worker", dispatch.WorkerName))

	select {
	case result := <-resultCh:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

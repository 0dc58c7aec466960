package service

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
	activityStream        = "ACTIVITY"
	activitySubjectPrefix = "mission.activity."
)

// ActivityService mirrors mission activity logs to a JetStream feed so that
// external observers can tail missions without holding a store subscription.
// It satisfies the store's ActivityPublisher interface.
type ActivityService struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewActivityService creates the activity feed and ensures its stream exists.
func NewActivityService(js nats.JetStreamContext, logger *zap.Logger) (*ActivityService, error) {
	s := &ActivityService{
		js:     js,
		logger: logger.Named("activity-service"),
	}

	_, err := js.StreamInfo(activityStream)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     activityStream,
			Subjects: []string{activitySubjectPrefix + "*"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
			MaxMsgs:  -1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		s.logger.Info("Created activity stream", zap.String("name", activityStream))
	}

	return s, nil
}

// PublishEvent publishes one committed activity event to the feed. Events of
// one mission share a subject, so per-mission ordering is preserved.
func (s *ActivityService) PublishEvent(event model.ActivityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal activity event: %w", err)
	}

	_, err = s.js.Publish(activitySubjectPrefix+event.MissionID, data)
	if err != nil {
		s.logger.Error("Failed to publish activity event",
			zap.String("event_id", event.ID),
			zap.String("mission_id", event.MissionID),
			zap.Error(err))
		return err
	}
	return nil
}

// Subscribe tails the activity feed of one mission, or of all missions when
// missionID is empty. The subscription ends when ctx is cancelled.
func (s *ActivityService) Subscribe(ctx context.Context, missionID string, handler func(model.ActivityEvent)) error {
	subject := activitySubjectPrefix + "*"
	if missionID != "" {
		subject = activitySubjectPrefix + missionID
	}

	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		var event model.ActivityEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Error("Failed to unmarshal activity event", zap.Error(err))
			return
		}

		handler(event)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}

package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
)

// AlertManager raises alerts from the mission activity feed. Rules match on
// event kinds; triggered alerts are published to alert.<type> subjects.
type AlertManager struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	rules  sync.Map
	sub    *nats.Subscription
}

// NewAlertManager creates a new alert manager
func NewAlertManager(logger *zap.Logger, js nats.JetStreamContext) *AlertManager {
	return &AlertManager{
		logger: logger.Named("alert-manager"),
		js:     js,
	}
}

// Start ensures the alert stream exists and subscribes to the activity feed.
func (m *AlertManager) Start(ctx context.Context) error {
	stream, err := m.js.StreamInfo("ALERTS")
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream == nil {
		_, err = m.js.AddStream(&nats.StreamConfig{
			Name:     "ALERTS",
			Subjects: []string{"alert.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	sub, err := m.js.Subscribe("mission.activity.*", m.handleActivityEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe to activity feed: %w", err)
	}
	m.sub = sub

	m.logger.Info("Alert manager started")
	return nil
}

// Stop stops the alert manager
func (m *AlertManager) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
}

// AddRule adds a new alert rule
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules.Store(rule.ID, rule)
	return nil
}

// GetRule returns a rule by ID
func (m *AlertManager) GetRule(id string) (*model.AlertRule, error) {
	value, ok := m.rules.Load(id)
	if !ok {
		return nil, fmt.Errorf("rule not found: %s", id)
	}
	return value.(*model.AlertRule), nil
}

// DeleteRule deletes an alert rule
func (m *AlertManager) DeleteRule(id string) error {
	if _, ok := m.rules.Load(id); !ok {
		return fmt.Errorf("rule not found: %s", id)
	}
	m.rules.Delete(id)
	return nil
}

// handleActivityEvent matches one activity event against the rule set.
func (m *AlertManager) handleActivityEvent(msg *nats.Msg) {
	var event model.ActivityEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal activity event", zap.Error(err))
		return
	}

	if event.Kind != model.EventKindError {
		return
	}

	alertType := model.AlertTypeTaskFailure
	if event.TaskID == "" {
		alertType = model.AlertTypeMissionFailure
	}

	m.rules.Range(func(key, value interface{}) bool {
		rule := value.(*model.AlertRule)
		if rule.Type == alertType {
			if err := m.createAlert(rule, event); err != nil {
				m.logger.Error("Failed to create alert",
					zap.String("rule_id", rule.ID),
					zap.Error(err))
			}
		}
		return true
	})
}

// createAlert creates and publishes a new alert
func (m *AlertManager) createAlert(rule *model.AlertRule, event model.ActivityEvent) error {
	alert := &model.Alert{
		ID:       uuid.New().String(),
		RuleID:   rule.ID,
		Type:     rule.Type,
		Severity: rule.Severity,
		Message:  fmt.Sprintf("Alert triggered for rule: %s", rule.Name),
		Data: map[string]interface{}{
			"mission_id": event.MissionID,
			"task_id":    event.TaskID,
			"worker":     event.WorkerName,
			"detail":     event.Message,
		},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if _, err := m.js.Publish("alert."+string(alert.Type), data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	m.logger.Info("Alert created",
		zap.String("id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)))

	return nil
}

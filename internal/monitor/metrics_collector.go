package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/state"
)

// MissionMetrics is the per-mission view the collector maintains from store
// updates.
type MissionMetrics struct {
	MissionID  string                   `json:"mission_id"`
	Status     model.MissionStatus      `json:"status"`
	TaskCounts map[model.TaskStatus]int `json:"task_counts"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// MetricsCollector folds mission state updates into per-mission counters and
// periodically publishes them, together with host CPU and memory usage, to
// the metrics subject.
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration
	mu       sync.RWMutex
	missions map[string]*MissionMetrics
	stop     chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		js:       js,
		interval: interval,
		missions: make(map[string]*MissionMetrics),
		stop:     make(chan struct{}),
	}
}

// Start starts the collection loop.
func (c *MetricsCollector) Start(ctx context.Context) {
	c.logger.Info("Starting metrics collector")
	go c.collectLoop(ctx)
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.logger.Info("Stopping metrics collector")
	close(c.stop)
}

// Track observes one mission store until the given context is cancelled.
// Every committed update refreshes the mission's counters.
func (c *MetricsCollector) Track(ctx context.Context, store *state.Store) {
	updates := store.Subscribe(state.ScopeAll, 256)
	c.record(store.Snapshot(), store.MissionID())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case update := <-updates:
				c.record(update.Snapshot, update.MissionID)
			}
		}
	}()
}

// record folds one snapshot into the mission's counters.
func (c *MetricsCollector) record(snapshot *state.Snapshot, missionID string) {
	counts := make(map[model.TaskStatus]int)
	for _, task := range snapshot.Tasks {
		counts[task.Status]++
	}

	c.mu.Lock()
	c.missions[missionID] = &MissionMetrics{
		MissionID:  missionID,
		Status:     snapshot.Mission.Status,
		TaskCounts: counts,
		UpdatedAt:  time.Now(),
	}
	c.mu.Unlock()
}

// collectLoop runs the metrics collection loop
func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collectMetrics()
		}
	}
}

// collectMetrics samples host usage and publishes the current mission view.
func (c *MetricsCollector) collectMetrics() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	metrics := struct {
		Timestamp   time.Time         `json:"timestamp"`
		CPUUsage    float64           `json:"cpu_usage"`
		MemoryUsage float64           `json:"memory_usage"`
		Missions    []*MissionMetrics `json:"missions"`
	}{
		Timestamp:   time.Now(),
		CPUUsage:    cpuPercent[0],
		MemoryUsage: memInfo.UsedPercent,
	}

	c.mu.RLock()
	for _, mm := range c.missions {
		metrics.Missions = append(metrics.Missions, mm)
	}
	c.mu.RUnlock()

	data, err := json.Marshal(metrics)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	if _, err := c.js.Publish("metrics.mission", data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", metrics.CPUUsage),
		zap.Float64("memory_usage", metrics.MemoryUsage),
		zap.Int("mission_count", len(metrics.Missions)))
}

// GetMetrics returns the current per-mission metrics.
func (c *MetricsCollector) GetMetrics() map[string]*MissionMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := make(map[string]*MissionMetrics, len(c.missions))
	for id, mm := range c.missions {
		metrics[id] = mm
	}
	return metrics
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/testutil"
)

func TestActivityService_PublishSubscribe(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	svc, err := NewActivityService(js, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []model.ActivityEvent
	require.NoError(t, svc.Subscribe(ctx, "m1", func(event model.ActivityEvent) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	}))

	events := []model.ActivityEvent{
		{ID: "e1", MissionID: "m1", Kind: model.EventKindPlan, Message: "plan accepted", Timestamp: time.Now()},
		{ID: "e2", MissionID: "m1", Kind: model.EventKindDelegate, TaskID: "t1", WorkerName: "editor", Timestamp: time.Now()},
		{ID: "e3", MissionID: "other", Kind: model.EventKindPlan, Message: "unrelated", Timestamp: time.Now()},
	}
	for _, event := range events {
		require.NoError(t, svc.PublishEvent(event))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The mission-scoped subscription sees only its own mission, in order.
	assert.Equal(t, "e1", received[0].ID)
	assert.Equal(t, "e2", received[1].ID)
	assert.Equal(t, model.EventKindDelegate, received[1].Kind)
}

func TestActivityService_WildcardSubscription(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	svc, err := NewActivityService(js, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	missions := make(map[string]int)
	require.NoError(t, svc.Subscribe(ctx, "", func(event model.ActivityEvent) {
		mu.Lock()
		missions[event.MissionID]++
		mu.Unlock()
	}))

	require.NoError(t, svc.PublishEvent(model.ActivityEvent{ID: "e1", MissionID: "m1", Kind: model.EventKindPlan}))
	require.NoError(t, svc.PublishEvent(model.ActivityEvent{ID: "e2", MissionID: "m2", Kind: model.EventKindPlan}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return missions["m1"] == 1 && missions["m2"] == 1
	}, 5*time.Second, 50*time.Millisecond)
}

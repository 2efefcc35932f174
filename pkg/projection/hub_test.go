package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/types"
)

func TestHubAdvanceNeverBackward(t *testing.T) {
	hub := NewCheckpointHub()

	hub.Advance("deploy_view", 10)
	hub.Advance("deploy_view", 5)

	assert.Equal(t, int64(10), hub.Checkpoint("deploy_view"))
}

func TestHubWaitForAlreadyCaughtUp(t *testing.T) {
	hub := NewCheckpointHub()
	hub.Advance("org_view", 42)

	err := hub.WaitFor(context.Background(), []string{"org_view"}, 42, time.Second)
	assert.NoError(t, err)
}

func TestHubWaitForWakesOnAdvance(t *testing.T) {
	hub := NewCheckpointHub()
	hub.Advance("env_view", 1)

	done := make(chan error, 1)
	go func() {
		done <- hub.WaitFor(context.Background(), []string{"env_view"}, 7, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Advance("env_view", 7)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestHubWaitForMultipleProjections(t *testing.T) {
	hub := NewCheckpointHub()
	hub.Advance("env_view", 9)
	hub.Advance("instance_view", 3)

	done := make(chan error, 1)
	go func() {
		done <- hub.WaitFor(context.Background(), []string{"env_view", "instance_view"}, 9, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Advance("instance_view", 9)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestHubWaitForTimeout(t *testing.T) {
	hub := NewCheckpointHub()

	err := hub.WaitFor(context.Background(), []string{"route_view"}, 99, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProjectionTimeout))
}

func TestHubWaitForContextCancel(t *testing.T) {
	hub := NewCheckpointHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- hub.WaitFor(ctx, []string{"route_view"}, 99, 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestViewNamesCoverAllHandlers(t *testing.T) {
	names := ViewNames()
	assert.Len(t, names, len(AllHandlers()))
	assert.Contains(t, names, "env_view")
	assert.Contains(t, names, "instance_view")
	assert.Contains(t, names, "node_view")
}

func TestHandlerEventTypesAreRegistered(t *testing.T) {
	// every event type a handler consumes must have a payload schema
	registered := make(map[string]bool)
	for _, et := range defaultRegistryTypes(t) {
		registered[et] = true
	}
	for _, h := range AllHandlers() {
		for _, et := range h.EventTypes() {
			assert.True(t, registered[et], "handler %s consumes unregistered type %s", h.Name(), et)
		}
	}
}

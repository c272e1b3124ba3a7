package deployments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoracloud/agora/internal/events"
)

func TestMemoryRegistryLookup(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Put(Deployment{ID: "d1", WorkspaceID: "w1", Status: StatusRunning})

	d, err := reg.Lookup(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, d.Running())

	_, err = reg.Lookup(context.Background(), "d2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsumerMarksWorkspaceDeploymentsDeleting(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Put(Deployment{ID: "d1", WorkspaceID: "w1", Status: StatusRunning})
	reg.Put(Deployment{ID: "d2", WorkspaceID: "w1", Status: StatusFailed})
	reg.Put(Deployment{ID: "d3", WorkspaceID: "w2", Status: StatusRunning})

	d := events.NewDispatcher(nil, nil, nil)
	NewConsumer(reg, nil).Register(d)
	env, err := events.NewWorkspaceDeleted("w1")
	require.NoError(t, err)
	for _, sub := range d.Subscriptions(events.WorkspaceDeleted) {
		require.NoError(t, d.Deliver(context.Background(), sub.Name, env))
	}

	for id, want := range map[string]Status{"d1": StatusDeleting, "d2": StatusDeleting, "d3": StatusRunning} {
		got, err := reg.Lookup(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}
}

package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoracloud/agora/internal/events"
)

func TestEventTaskHandlerDelivers(t *testing.T) {
	d := events.NewDispatcher(nil, nil, nil)
	var got events.Envelope
	d.Subscribe("authz.user.created", events.UserCreated, func(ctx context.Context, env events.Envelope) error {
		got = env
		return nil
	})
	env, err := events.NewUserCreated("u1", "User")
	require.NoError(t, err)
	task, err := NewEventTask("authz.user.created", env)
	require.NoError(t, err)

	h := NewEventTaskHandler(d, nil)
	require.NoError(t, h.Handle(context.Background(), task))
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.ID+":authz.user.created", EventTaskID("authz.user.created", env))
}

func TestEventTaskHandlerSkipsRetryOnBadPayload(t *testing.T) {
	h := NewEventTaskHandler(events.NewDispatcher(nil, nil, nil), nil)
	err := h.Handle(context.Background(), asynq.NewTask(TaskEventDeliver, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEventTaskHandlerPermanentFailure(t *testing.T) {
	d := events.NewDispatcher(nil, nil, nil)
	d.Subscribe("authz.user.created", events.UserCreated, func(ctx context.Context, env events.Envelope) error {
		return events.Permanent(errors.New("invalid role"))
	})
	env, err := events.NewUserCreated("u1", "Nobody")
	require.NoError(t, err)
	task, err := NewEventTask("authz.user.created", env)
	require.NoError(t, err)

	err = NewEventTaskHandler(d, nil).Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEventTaskHandlerTransientFailureRetries(t *testing.T) {
	d := events.NewDispatcher(nil, nil, nil)
	d.Subscribe("authz.workspace.created", events.WorkspaceCreated, func(ctx context.Context, env events.Envelope) error {
		return errors.New("document not found yet")
	})
	env, err := events.NewWorkspaceCreated("w1", "u1")
	require.NoError(t, err)
	task, err := NewEventTask("authz.workspace.created", env)
	require.NoError(t, err)

	err = NewEventTaskHandler(d, nil).Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

// Package events carries lifecycle events between the services that emit them
// and the subscribers that keep derived state, such as permission documents,
// consistent.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	UserCreated          Type = "user.created"
	UserDeleted          Type = "user.deleted"
	WorkspaceCreated     Type = "workspace.created"
	WorkspaceDeleted     Type = "workspace.deleted"
	WorkspaceUserAdded   Type = "workspace.user.added"
	WorkspaceUserRemoved Type = "workspace.user.removed"
)

// Envelope wraps an event payload. Key is the ordering key: envelopes sharing
// a key are delivered to each subscription in publish order by the in-process bus.
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v. Decode failures are permanent.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return Permanent(fmt.Errorf("events: decode %s payload: %w", e.Type, err))
	}
	return nil
}

// Publisher emits envelopes to subscribers.
type Publisher interface {
	Publish(ctx context.Context, envs ...Envelope) error
}

// UserCreatedPayload is the payload of UserCreated.
type UserCreatedPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// UserDeletedPayload is the payload of UserDeleted.
type UserDeletedPayload struct {
	UserID string `json:"user_id"`
}

// WorkspaceCreatedPayload is the payload of WorkspaceCreated.
type WorkspaceCreatedPayload struct {
	WorkspaceID string `json:"workspace_id"`
	OwnerID     string `json:"owner_id"`
}

// WorkspaceDeletedPayload is the payload of WorkspaceDeleted.
type WorkspaceDeletedPayload struct {
	WorkspaceID string `json:"workspace_id"`
}

// WorkspaceUserPayload is the payload of WorkspaceUserAdded and WorkspaceUserRemoved.
type WorkspaceUserPayload struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
}

// NewUserCreated builds a UserCreated envelope keyed by the user.
func NewUserCreated(userID, role string) (Envelope, error) {
	return newEnvelope(UserCreated, userID, UserCreatedPayload{UserID: userID, Role: role})
}

// NewUserDeleted builds a UserDeleted envelope keyed by the user.
func NewUserDeleted(userID string) (Envelope, error) {
	return newEnvelope(UserDeleted, userID, UserDeletedPayload{UserID: userID})
}

// NewWorkspaceCreated builds a WorkspaceCreated envelope keyed by the owner so
// it is ordered after the owner's UserCreated.
func NewWorkspaceCreated(workspaceID, ownerID string) (Envelope, error) {
	return newEnvelope(WorkspaceCreated, ownerID, WorkspaceCreatedPayload{WorkspaceID: workspaceID, OwnerID: ownerID})
}

// NewWorkspaceDeleted builds a WorkspaceDeleted envelope keyed by the workspace.
func NewWorkspaceDeleted(workspaceID string) (Envelope, error) {
	return newEnvelope(WorkspaceDeleted, workspaceID, WorkspaceDeletedPayload{WorkspaceID: workspaceID})
}

// NewWorkspaceUserAdded builds a WorkspaceUserAdded envelope keyed by the user.
func NewWorkspaceUserAdded(workspaceID, userID string) (Envelope, error) {
	return newEnvelope(WorkspaceUserAdded, userID, WorkspaceUserPayload{WorkspaceID: workspaceID, UserID: userID})
}

// NewWorkspaceUserRemoved builds a WorkspaceUserRemoved envelope keyed by the user.
func NewWorkspaceUserRemoved(workspaceID, userID string) (Envelope, error) {
	return newEnvelope(WorkspaceUserRemoved, userID, WorkspaceUserPayload{WorkspaceID: workspaceID, UserID: userID})
}

func newEnvelope(t Type, key string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode %s: %w", t, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       t,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

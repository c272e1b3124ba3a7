package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoracloud/agora/internal/platform/httpx"
)

const (
	userA = "6f1c1d8e-0a51-4c59-9d7c-3e2f0f0b7a01"
	userB = "6f1c1d8e-0a51-4c59-9d7c-3e2f0f0b7a02"
	wsW   = "0d5a3f63-2f0b-4b0e-8f5b-1c9a0d7e4b10"
	wsV   = "0d5a3f63-2f0b-4b0e-8f5b-1c9a0d7e4b11"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, nil), store
}

func TestCheckAccessSuperAdminGrantsEverywhere(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleSuperAdmin, nil)
	require.NoError(t, err)

	d, err := svc.CheckAccess(ctx, userA, NewActionSet(DeleteProject), wsW)
	require.NoError(t, err)
	assert.Equal(t, Decision{Granted: true, IsAdmin: true}, d)

	d, err = svc.CheckAccess(ctx, userA, NewActionSet(ManageUsers), "")
	require.NoError(t, err)
	assert.Equal(t, Decision{Granted: true, IsAdmin: true}, d)
}

func TestCheckAccessGlobalActions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)

	d, err := svc.CheckAccess(ctx, userA, NewActionSet(CreateWorkspace), "")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.False(t, d.IsAdmin)

	d, err = svc.CheckAccess(ctx, userA, NewActionSet(CreateWorkspace, ManageUsers), "")
	require.NoError(t, err)
	assert.False(t, d.Granted)
}

func TestCheckAccessFailsClosedOnEmptySets(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, NewActionSet())
	require.NoError(t, err)

	d, err := svc.CheckAccess(ctx, userA, NewActionSet(ReadWorkspace), "")
	require.NoError(t, err)
	assert.False(t, d.Granted, "empty grant must deny")

	_, err = svc.CreateDocument(ctx, userB, RoleUser, nil)
	require.NoError(t, err)
	d, err = svc.CheckAccess(ctx, userB, NewActionSet(), "")
	require.NoError(t, err)
	assert.False(t, d.Granted, "empty requirement must deny")
}

func TestCheckAccessWorkspaceScope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)
	require.NoError(t, svc.AddWorkspaceEntry(ctx, userA, wsW, AdminGrant(RoleWorkspaceAdmin)))
	require.NoError(t, svc.AddWorkspaceEntry(ctx, userA, wsV, ExplicitGrant(NewActionSet(ReadWiki))))

	d, err := svc.CheckAccess(ctx, userA, NewActionSet(DeleteWorkspace), wsW)
	require.NoError(t, err)
	assert.Equal(t, Decision{Granted: true, IsAdmin: true}, d)

	d, err = svc.CheckAccess(ctx, userA, NewActionSet(ReadWikiPage, ReadWikiSection), wsV)
	require.NoError(t, err)
	assert.Equal(t, Decision{Granted: true}, d)

	d, err = svc.CheckAccess(ctx, userA, NewActionSet(UpdateWikiPage), wsV)
	require.NoError(t, err)
	assert.False(t, d.Granted)

	grant, err := svc.WorkspaceGrant(ctx, userA, wsV)
	require.NoError(t, err)
	assert.Equal(t, []Action{ReadWiki}, grant.Actions().Slice(), "implied actions must not be persisted")
}

func TestCheckAccessMissingEntryAndDocument(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)

	_, err = svc.CheckAccess(ctx, userA, NewActionSet(ReadWorkspace), wsW)
	assert.ErrorIs(t, err, ErrUserNotInWorkspace)

	_, err = svc.Can(ctx, userA, NewActionSet(ReadWorkspace), wsW)
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
	assert.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = svc.CheckAccess(ctx, userB, NewActionSet(ReadWorkspace), "")
	assert.ErrorIs(t, err, ErrPermissionsNotFound)
}

func TestSetWorkspacePermissions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)

	_, err = svc.SetWorkspacePermissions(ctx, userA, wsW, RoleUser, NewActionSet(ReadWorkspace))
	assert.ErrorIs(t, err, ErrUserNotInWorkspace)

	require.NoError(t, svc.AddWorkspaceEntry(ctx, userA, wsW, ExplicitGrant(NewActionSet(ReadWorkspace))))
	grant, err := svc.SetWorkspacePermissions(ctx, userA, wsW, RoleWorkspaceAdmin, NewActionSet(ReadWorkspace, ReadWiki))
	require.NoError(t, err)
	assert.True(t, grant.IsAdmin())
	assert.Nil(t, grant.Actions(), "admin grants carry no actions")

	_, err = svc.SetWorkspacePermissions(ctx, userA, wsW, RoleSuperAdmin, nil)
	assert.Error(t, err)
}

func TestSetGlobalPermissionsSuperAdminClearsActions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)

	doc, err := svc.SetGlobalPermissions(ctx, userA, RoleSuperAdmin, NewActionSet(ManageUsers))
	require.NoError(t, err)
	assert.True(t, doc.IsSuperAdmin())
	assert.Nil(t, doc.Global.Actions())

	doc, err = svc.SetGlobalPermissions(ctx, userA, RoleUser, NewActionSet(ReadAuditLog))
	require.NoError(t, err)
	assert.Equal(t, []Action{ReadAuditLog}, doc.Global.Actions().Slice())
}

func TestAddWorkspaceEntryUpserts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)

	require.NoError(t, svc.AddWorkspaceEntry(ctx, userA, wsW, ExplicitGrant(NewActionSet(ReadWorkspace))))
	require.NoError(t, svc.AddWorkspaceEntry(ctx, userA, wsW, AdminGrant(RoleWorkspaceAdmin)))

	grant, err := svc.WorkspaceGrant(ctx, userA, wsW)
	require.NoError(t, err)
	assert.True(t, grant.IsAdmin())

	err = svc.AddWorkspaceEntry(ctx, userB, wsW, AdminGrant(RoleWorkspaceAdmin))
	assert.ErrorIs(t, err, ErrPermissionsNotFound)
}

func TestRemoveWorkspaceEntries(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{userA, userB} {
		_, err := svc.CreateDocument(ctx, id, RoleUser, nil)
		require.NoError(t, err)
		require.NoError(t, svc.AddWorkspaceEntry(ctx, id, wsW, ExplicitGrant(NewActionSet(ReadWorkspace))))
	}
	require.NoError(t, svc.AddWorkspaceEntry(ctx, userA, wsV, AdminGrant(RoleWorkspaceAdmin)))

	before, err := store.Find(ctx, userB)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveWorkspaceEntry(ctx, userB, wsV))
	after, err := store.Find(ctx, userB)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "removing an absent entry must not write")

	require.NoError(t, svc.RemoveAllWorkspaceEntries(ctx, wsW))
	docs, err := store.FindByWorkspace(ctx, wsW)
	require.NoError(t, err)
	assert.Empty(t, docs)

	admins, err := svc.WorkspaceAdmins(ctx, wsV)
	require.NoError(t, err)
	assert.Equal(t, []string{userA}, admins)
}

func TestDeleteDocumentIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteDocument(ctx, userA))
	require.NoError(t, svc.DeleteDocument(ctx, userA))
	_, err = svc.Document(ctx, userA)
	assert.ErrorIs(t, err, ErrPermissionsNotFound)
}

// racingStore slips a concurrent write in before the first Update.
type racingStore struct {
	*MemoryStore
	race func()
}

func (s *racingStore) Update(ctx context.Context, doc *Document) error {
	if s.race != nil {
		race := s.race
		s.race = nil
		race()
	}
	return s.MemoryStore.Update(ctx, doc)
}

func TestMutationsRetryOnVersionConflict(t *testing.T) {
	mem := NewMemoryStore()
	store := &racingStore{MemoryStore: mem}
	svc := NewService(store, nil)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)

	store.race = func() {
		doc, err := mem.Find(ctx, userA)
		require.NoError(t, err)
		doc.Workspaces[wsV] = ExplicitGrant(NewActionSet(ReadWorkspace))
		require.NoError(t, mem.Update(ctx, doc))
	}
	require.NoError(t, svc.AddWorkspaceEntry(ctx, userA, wsW, AdminGrant(RoleWorkspaceAdmin)))

	doc, err := mem.Find(ctx, userA)
	require.NoError(t, err)
	assert.Contains(t, doc.Workspaces, wsW)
	assert.Contains(t, doc.Workspaces, wsV, "concurrent update must survive")
	assert.EqualValues(t, 3, doc.Version)
}

type conflictStore struct {
	*MemoryStore
}

func (conflictStore) Update(context.Context, *Document) error { return ErrVersionConflict }

func TestMutationsGiveUpAfterBoundedAttempts(t *testing.T) {
	mem := NewMemoryStore()
	svc := NewService(conflictStore{mem}, nil)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, userA, RoleUser, nil)
	require.NoError(t, err)

	err = svc.AddWorkspaceEntry(ctx, userA, wsW, AdminGrant(RoleWorkspaceAdmin))
	assert.True(t, errors.Is(err, ErrVersionConflict))
}

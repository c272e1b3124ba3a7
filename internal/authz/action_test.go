package authz

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveExpandsWikiActions(t *testing.T) {
	granted := NewActionSet(ReadWiki, CreateProject)
	eff := Effective(granted)

	assert.True(t, eff.Has(ReadWikiSection))
	assert.True(t, eff.Has(ReadWikiPage))
	assert.True(t, eff.Has(CreateProject))
	assert.False(t, eff.Has(UpdateWikiPage))
	assert.Len(t, granted, 2, "input must be left untouched")
}

func TestEffectiveIsIdempotent(t *testing.T) {
	once := Effective(NewActionSet(CreateWiki, UpdateWiki, DeleteWiki))
	twice := Effective(once)
	assert.Equal(t, once.Slice(), twice.Slice())
}

func TestContainsFailsClosed(t *testing.T) {
	assert.False(t, ActionSet{}.Contains(NewActionSet(ReadWorkspace)))
	assert.False(t, NewActionSet(ReadWorkspace).Contains(ActionSet{}))
	assert.True(t, NewActionSet(ReadWorkspace, ReadWiki).Contains(NewActionSet(ReadWiki)))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("deployments:proxy")
	require.NoError(t, err)
	assert.Equal(t, ProxyDeployment, a)

	_, err = ParseAction("deployments:launch")
	assert.Error(t, err)
}

func TestGrantJSON(t *testing.T) {
	admin, err := json.Marshal(GrantFor(RoleWorkspaceAdmin, NewActionSet(ReadWiki)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"WorkspaceAdmin"}`, string(admin))

	var g Grant
	require.NoError(t, json.Unmarshal([]byte(`{"role":"User","permissions":["wiki:read","bogus"]}`), &g))
	assert.False(t, g.IsAdmin())
	assert.Equal(t, []Action{ReadWiki}, g.Actions().Slice())

	require.NoError(t, json.Unmarshal([]byte(`{"role":"SuperAdmin","permissions":["wiki:read"]}`), &g))
	assert.True(t, g.IsAdmin())
	assert.Nil(t, g.Actions())
}

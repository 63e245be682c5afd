package permission

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockhq/paddock/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(context.Background(), filepath.Join(t.TempDir(), "permissions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// TestSeedDefinitions tests that the canonical set is present after open
func TestSeedDefinitions(t *testing.T) {
	r := newTestRegistry(t)

	defs, err := r.ListDefinitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, defs, len(seedList))

	def, err := r.DefinitionByName(context.Background(), "view_server")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, types.ObjectServer, def.ObjectType)
	assert.NotZero(t, def.ID)
}

// TestSeedIdempotent tests that reopening does not duplicate definitions
func TestSeedIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "permissions.db")

	r1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	r2, err := Open(ctx, path)
	require.NoError(t, err)
	defer r2.Close()

	defs, err := r2.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(seedList))
}

// TestDefinitionByNameUnknown tests the nil-not-error contract
func TestDefinitionByNameUnknown(t *testing.T) {
	r := newTestRegistry(t)

	def, err := r.DefinitionByName(context.Background(), "launch_rockets")
	require.NoError(t, err)
	assert.Nil(t, def)
}

// TestGrantRevokeCycle tests the history-preserving assignment rows
func TestGrantRevokeCycle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	def, err := r.DefinitionByName(ctx, "manage_server")
	require.NoError(t, err)

	require.NoError(t, r.Grant(ctx, "team-1", "user-1", def.ID))

	granted, err := r.HasGrant(ctx, []string{"team-1"}, "user-1", def.ID)
	require.NoError(t, err)
	assert.True(t, granted)

	require.NoError(t, r.RevokeTeamPermissions(ctx, "team-1", []int64{def.ID}))

	granted, err = r.HasGrant(ctx, []string{"team-1"}, "user-1", def.ID)
	require.NoError(t, err)
	assert.False(t, granted)

	// The row survives revocation with granted=false.
	rows, err := r.Assignments(ctx, "team-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Granted)

	// Re-granting flips the same row back.
	require.NoError(t, r.Grant(ctx, "team-1", "user-1", def.ID))
	rows, err = r.Assignments(ctx, "team-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Granted)
}

// TestRevokeIsTeamWide tests that revocation hits every member's rows
func TestRevokeIsTeamWide(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	def, err := r.DefinitionByName(ctx, "delete_server")
	require.NoError(t, err)

	require.NoError(t, r.Grant(ctx, "team-1", "user-1", def.ID))
	require.NoError(t, r.Grant(ctx, "team-1", "user-2", def.ID))
	require.NoError(t, r.Grant(ctx, "team-2", "user-1", def.ID))

	require.NoError(t, r.RevokeTeamPermissions(ctx, "team-1", []int64{def.ID}))

	for _, user := range []string{"user-1", "user-2"} {
		granted, err := r.HasGrant(ctx, []string{"team-1"}, user, def.ID)
		require.NoError(t, err)
		assert.False(t, granted, "team-1 grant for %s should be revoked", user)
	}

	// The other team is untouched.
	granted, err := r.HasGrant(ctx, []string{"team-2"}, "user-1", def.ID)
	require.NoError(t, err)
	assert.True(t, granted)
}

// TestHasGrantAcrossTeams tests OR semantics over the team list
func TestHasGrantAcrossTeams(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	def, err := r.DefinitionByName(ctx, "view_app")
	require.NoError(t, err)

	require.NoError(t, r.Grant(ctx, "team-2", "user-1", def.ID))

	granted, err := r.HasGrant(ctx, []string{"team-1", "team-2", "team-3"}, "user-1", def.ID)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = r.HasGrant(ctx, []string{"team-1", "team-3"}, "user-1", def.ID)
	require.NoError(t, err)
	assert.False(t, granted)

	granted, err = r.HasGrant(ctx, nil, "user-1", def.ID)
	require.NoError(t, err)
	assert.False(t, granted)
}

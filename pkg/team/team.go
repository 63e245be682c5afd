package team

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/permission"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// Manager persists teams and propagates their rules into the permission
// assignment table.
type Manager struct {
	store    storage.Store
	registry *permission.Registry
}

// NewManager creates a new team manager.
func NewManager(store storage.Store, registry *permission.Registry) *Manager {
	return &Manager{store: store, registry: registry}
}

// CreateTeam assigns an ID if missing and runs a full save.
func (m *Manager) CreateTeam(ctx context.Context, team *types.Team) error {
	if team.ID == "" {
		team.ID = uuid.New().String()
	}
	if team.CreatedAt.IsZero() {
		team.CreatedAt = time.Now()
	}
	return m.SaveTeam(ctx, team)
}

// SaveTeam replaces a team's rule state and propagates grants.
//
// The propagation is a deliberate two-pass design:
//
//  1. collect the union of permission IDs across every rule in this save
//  2. compute the excluded set: all definitions minus the union
//  3. revoke the excluded set team-wide, for every user with a granted
//     row, not only the members mentioned in this save
//  4. upsert granted=true per rule, per member, per permission
//
// Step 3 must not be skipped when the passed set is non-empty: a
// permission still present in a member's rule may be revoked by step 3
// and re-granted by step 4 in the same save, which is idempotent. A
// narrower "only touch rows mentioned in this save" pass would leak
// granted rows when a permission checkbox is removed for everyone.
func (m *Manager) SaveTeam(ctx context.Context, team *types.Team) error {
	if team.ID == "" {
		return fmt.Errorf("team id is required")
	}

	passed := make(map[int64]bool)
	for _, rule := range team.Rules {
		for _, id := range rule.PermissionIDs {
			passed[id] = true
		}
	}

	allIDs, err := m.registry.AllDefinitionIDs(ctx)
	if err != nil {
		return fmt.Errorf("save team %s: %w", team.ID, err)
	}

	var excluded []int64
	for _, id := range allIDs {
		if !passed[id] {
			excluded = append(excluded, id)
		}
	}

	if err := m.registry.RevokeTeamPermissions(ctx, team.ID, excluded); err != nil {
		return fmt.Errorf("save team %s: %w", team.ID, err)
	}

	for _, rule := range team.Rules {
		for _, permissionID := range rule.PermissionIDs {
			if err := m.registry.Grant(ctx, team.ID, rule.Member, permissionID); err != nil {
				return fmt.Errorf("save team %s: %w", team.ID, err)
			}
		}
	}

	if err := m.store.UpdateTeam(team); err != nil {
		return fmt.Errorf("save team %s: %w", team.ID, err)
	}

	log.WithComponent("team").Debug().
		Str("team_id", team.ID).
		Int("rules", len(team.Rules)).
		Int("revoked", len(excluded)).
		Msg("team saved")
	return nil
}

// DeleteTeam removes the team document. Assignment rows are kept with
// their last granted state; they stop mattering once no entity lists the
// team.
func (m *Manager) DeleteTeam(ctx context.Context, teamID string) error {
	allIDs, err := m.registry.AllDefinitionIDs(ctx)
	if err != nil {
		return fmt.Errorf("delete team %s: %w", teamID, err)
	}
	if err := m.registry.RevokeTeamPermissions(ctx, teamID, allIDs); err != nil {
		return fmt.Errorf("delete team %s: %w", teamID, err)
	}
	return m.store.DeleteTeam(teamID)
}

package auth

import (
	"context"
	"errors"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/permission"
	"github.com/paddockhq/paddock/pkg/storage"
)

// AdminChecker reports whether a user has the global admin capability.
// Admins bypass every permission check.
type AdminChecker interface {
	IsAdmin(userID string) bool
}

// StaticAdmins is an AdminChecker backed by a fixed user ID set.
type StaticAdmins map[string]bool

// NewStaticAdmins builds a StaticAdmins set from a list of user IDs.
func NewStaticAdmins(userIDs []string) StaticAdmins {
	set := make(StaticAdmins, len(userIDs))
	for _, id := range userIDs {
		set[id] = true
	}
	return set
}

func (s StaticAdmins) IsAdmin(userID string) bool {
	return s[userID]
}

// Evaluator decides whether a user may exercise a named permission
// against a server or app. It never returns an error: anything that
// cannot be resolved (unknown permission, missing entity, empty user)
// evaluates to deny. Ownership is deliberately not consulted here;
// callers layer the owner check on top via CanUserManage.
type Evaluator struct {
	store    storage.Store
	registry *permission.Registry
	admins   AdminChecker
}

// NewEvaluator creates an evaluator.
func NewEvaluator(store storage.Store, registry *permission.Registry, admins AdminChecker) *Evaluator {
	return &Evaluator{store: store, registry: registry, admins: admins}
}

// CanUser reports whether userID holds permissionName on the entity.
//
// Admin users short-circuit to true without touching the registry. A
// user belonging to several of the entity's teams is allowed if any one
// of them grants the permission.
func (e *Evaluator) CanUser(ctx context.Context, userID, permissionName, entityID string) bool {
	if userID == "" || permissionName == "" || entityID == "" {
		return false
	}

	if e.admins != nil && e.admins.IsAdmin(userID) {
		return true
	}

	def, err := e.registry.DefinitionByName(ctx, permissionName)
	if err != nil {
		log.WithComponent("auth").Error().Err(err).Str("permission", permissionName).Msg("permission lookup failed")
		return false
	}
	if def == nil {
		// Unknown permission name: fail closed.
		metrics.AuthorizationsDenied.Inc()
		return false
	}

	teams, _, ok := e.entityTeams(entityID)
	if !ok || len(teams) == 0 {
		metrics.AuthorizationsDenied.Inc()
		return false
	}

	granted, err := e.registry.HasGrant(ctx, teams, userID, def.ID)
	if err != nil {
		log.WithComponent("auth").Error().Err(err).Str("entity_id", entityID).Msg("grant lookup failed")
		return false
	}
	if !granted {
		metrics.AuthorizationsDenied.Inc()
	}
	return granted
}

// CanUserManage layers the ownership check over CanUser, matching the
// owner-or-grant pattern collaborators are expected to use.
func (e *Evaluator) CanUserManage(ctx context.Context, userID, permissionName, entityID string) bool {
	if userID == "" || entityID == "" {
		return false
	}
	if e.admins != nil && e.admins.IsAdmin(userID) {
		return true
	}
	_, owner, ok := e.entityTeams(entityID)
	if ok && owner == userID {
		return true
	}
	return e.CanUser(ctx, userID, permissionName, entityID)
}

// entityTeams resolves an entity ID to its assigned teams and owner,
// checking servers first, then apps.
func (e *Evaluator) entityTeams(entityID string) ([]string, string, bool) {
	if server, err := e.store.GetServer(entityID); err == nil {
		return server.AssignedTeams, server.Owner, true
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.WithComponent("auth").Error().Err(err).Str("entity_id", entityID).Msg("server lookup failed")
		return nil, "", false
	}
	if app, err := e.store.GetApp(entityID); err == nil {
		return app.AssignedTeams, app.Owner, true
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.WithComponent("auth").Error().Err(err).Str("entity_id", entityID).Msg("app lookup failed")
		return nil, "", false
	}
	return nil, "", false
}

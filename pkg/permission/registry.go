package permission

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/paddockhq/paddock/pkg/types"
)

// Registry holds the canonical permission definitions and the
// (team, user, permission) assignment table. Assignments are
// history-preserving: revocation flips granted to false, rows are never
// deleted.
type Registry struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS permission_definitions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	object_type TEXT NOT NULL,
	category    TEXT NOT NULL,
	grp         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS permission_assignments (
	team_id       TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	permission_id INTEGER NOT NULL,
	granted       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (team_id, user_id, permission_id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_team_perm
	ON permission_assignments(team_id, permission_id);
`

// Open opens (creating if necessary) the permission database.
func Open(ctx context.Context, path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate permission db: %w", err)
	}
	r := &Registry{db: db}
	if err := r.seedDefinitions(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// canonical definition list, seeded on open
var seedList = []types.PermissionDefinition{
	{Name: "view_server", ObjectType: types.ObjectServer, Category: "server", Group: 1},
	{Name: "manage_server", ObjectType: types.ObjectServer, Category: "server", Group: 1},
	{Name: "delete_server", ObjectType: types.ObjectServer, Category: "server", Group: 1},
	{Name: "power_server", ObjectType: types.ObjectServer, Category: "power", Group: 2},
	{Name: "reboot_server", ObjectType: types.ObjectServer, Category: "power", Group: 2},
	{Name: "resize_server", ObjectType: types.ObjectServer, Category: "server", Group: 2},
	{Name: "execute_server_command", ObjectType: types.ObjectServer, Category: "command", Group: 3},
	{Name: "view_app", ObjectType: types.ObjectApp, Category: "app", Group: 4},
	{Name: "manage_app", ObjectType: types.ObjectApp, Category: "app", Group: 4},
	{Name: "delete_app", ObjectType: types.ObjectApp, Category: "app", Group: 4},
	{Name: "remove_app_protection", ObjectType: types.ObjectApp, Category: "app", Group: 5},
}

func (r *Registry) seedDefinitions(ctx context.Context) error {
	for _, def := range seedList {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO permission_definitions(name, object_type, category, grp)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO NOTHING
`, def.Name, string(def.ObjectType), def.Category, def.Group)
		if err != nil {
			return fmt.Errorf("seed definition %s: %w", def.Name, err)
		}
	}
	return nil
}

// DefinitionByName resolves a permission name. Returns nil (not an error)
// when the name is unknown; the evaluator treats that as deny.
func (r *Registry) DefinitionByName(ctx context.Context, name string) (*types.PermissionDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, object_type, category, grp FROM permission_definitions WHERE name = ?
`, name)
	var def types.PermissionDefinition
	var objectType string
	err := row.Scan(&def.ID, &def.Name, &objectType, &def.Category, &def.Group)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup permission %s: %w", name, err)
	}
	def.ObjectType = types.ObjectType(objectType)
	return &def, nil
}

// ListDefinitions returns every permission definition.
func (r *Registry) ListDefinitions(ctx context.Context) ([]*types.PermissionDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, object_type, category, grp FROM permission_definitions ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*types.PermissionDefinition
	for rows.Next() {
		var def types.PermissionDefinition
		var objectType string
		if err := rows.Scan(&def.ID, &def.Name, &objectType, &def.Category, &def.Group); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		def.ObjectType = types.ObjectType(objectType)
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

// AllDefinitionIDs returns the IDs of every definition across both object
// types. Used by the team-save exclusion pass.
func (r *Registry) AllDefinitionIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM permission_definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list definition ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan definition id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Grant upserts (team, user, permission) -> granted=true.
func (r *Registry) Grant(ctx context.Context, teamID, userID string, permissionID int64) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO permission_assignments(team_id, user_id, permission_id, granted)
VALUES (?, ?, ?, 1)
ON CONFLICT(team_id, user_id, permission_id) DO UPDATE SET granted = 1
`, teamID, userID, permissionID)
	if err != nil {
		return fmt.Errorf("grant %d to %s in team %s: %w", permissionID, userID, teamID, err)
	}
	return nil
}

// RevokeTeamPermissions flips granted=false for every row of the team
// matching one of the given permission IDs, regardless of which user the
// row belongs to. This team-wide scope is deliberate: the save path
// revokes everything not re-requested, then re-grants per member.
func (r *Registry) RevokeTeamPermissions(ctx context.Context, teamID string, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(permissionIDs)), ",")
	args := make([]any, 0, len(permissionIDs)+1)
	args = append(args, teamID)
	for _, id := range permissionIDs {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE permission_assignments SET granted = 0
WHERE team_id = ? AND permission_id IN (%s) AND granted = 1
`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("revoke team %s permissions: %w", teamID, err)
	}
	return nil
}

// HasGrant reports whether any of the teams grants the permission to the
// user. OR semantics across teams.
func (r *Registry) HasGrant(ctx context.Context, teamIDs []string, userID string, permissionID int64) (bool, error) {
	if len(teamIDs) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(teamIDs)), ",")
	args := make([]any, 0, len(teamIDs)+2)
	args = append(args, userID, permissionID)
	for _, id := range teamIDs {
		args = append(args, id)
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT COUNT(1) FROM permission_assignments
WHERE user_id = ? AND permission_id = ? AND granted = 1 AND team_id IN (%s)
`, placeholders), args...)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return count > 0, nil
}

// Assignments returns every assignment row of a team, granted or not.
func (r *Registry) Assignments(ctx context.Context, teamID string) ([]types.PermissionAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT team_id, user_id, permission_id, granted FROM permission_assignments
WHERE team_id = ? ORDER BY user_id, permission_id
`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []types.PermissionAssignment
	for rows.Next() {
		var a types.PermissionAssignment
		var granted int
		if err := rows.Scan(&a.TeamID, &a.UserID, &a.PermissionID, &granted); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Granted = granted != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

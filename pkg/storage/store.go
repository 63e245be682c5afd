package storage

import (
	"errors"

	"github.com/paddockhq/paddock/pkg/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for control-plane entity storage.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// Servers
	CreateServer(server *types.Server) error
	GetServer(id string) (*types.Server, error)
	ListServers() ([]*types.Server, error)
	UpdateServer(server *types.Server) error
	DeleteServer(id string) error

	// Apps
	CreateApp(app *types.App) error
	GetApp(id string) (*types.App, error)
	ListApps() ([]*types.App, error)
	ListAppsByServer(serverID string) ([]*types.App, error)
	UpdateApp(app *types.App) error
	DeleteApp(id string) error

	// Teams
	CreateTeam(team *types.Team) error
	GetTeam(id string) (*types.Team, error)
	ListTeams() ([]*types.Team, error)
	UpdateTeam(team *types.Team) error
	DeleteTeam(id string) error

	// Logs. Entries are keyed so cursor order is creation order; the
	// oldest-first contracts below depend on that.
	AppendLog(entry *types.LogEntry) error
	UpdateLog(entry *types.LogEntry) error
	ListLogsByKind(kind types.LogKind) ([]*types.LogEntry, error)
	GetNotifyLog(id string) (*types.LogEntry, error)
	ListUnsentNotifications(limit int) ([]*types.LogEntry, error)
	CountLogs(kind types.LogKind) (int, error)
	DeleteOldestLogs(kind types.LogKind, max int) (int, error)

	// Alert profiles
	CreateAlertProfile(profile *types.AlertProfile) error
	GetAlertProfile(id string) (*types.AlertProfile, error)
	ListAlertProfiles() ([]*types.AlertProfile, error)
	DeleteAlertProfile(id string) error

	// Utility
	Close() error
}

package types

import (
	"time"
)

// Server represents a provisioned cloud server instance.
type Server struct {
	ID                 string
	Name               string
	Owner              string // user ID of the owning user
	Provider           string // e.g. "digitalocean", "aws"
	ProviderInstanceID string
	IPv4               string
	Region             string

	// Deferred-action state. ActionStatus is "in-progress" iff Action and
	// ActionID are both non-empty; the three fields are cleared together.
	CurrentState string // "", "active", "off", or "performing <action>"
	ActionStatus string // "" or "in-progress"
	Action       string // in-flight action name
	ActionID     string // provider-side correlation token
	ActionError  string // last failed action request, surfaced to operators

	// ActionStartedAt is set when an action goes in-progress and zeroed
	// when it clears; the stale-action sweep keys off it.
	ActionStartedAt time.Time

	ActionHistory []ActionRecord

	AssignedTeams   []string
	SizeRaw         string
	PendingSizeRaw  string
	DeleteProtected bool

	CreatedAt time.Time

	// Extra holds provider-specific fields that have no typed home.
	Extra map[string]string
}

// ActionRecord is a single entry in a server's bounded action history.
type ActionRecord struct {
	At     time.Time
	Action string
}

// App represents an application deployed on a server.
type App struct {
	ID             string
	Name           string
	Owner          string
	ParentServerID string
	Domain         string

	ExpiresAt     *time.Time
	ExpiredStatus bool

	CurrentState string
	ActionStatus string
	Action       string
	ActionID     string
	ActionError  string

	ActionStartedAt time.Time

	ActionHistory []ActionRecord

	AssignedTeams   []string
	DeleteProtected bool

	CreatedAt time.Time
	Extra     map[string]string
}

// CurrentState values. A server with an empty state is treated as
// available (new servers default open).
const (
	StateActive = "active"
	StateOff    = "off"
)

// ActionStatusInProgress is the only non-empty ActionStatus value.
const ActionStatusInProgress = "in-progress"

// Action names understood by provider gateways.
const (
	ActionCreate = "create"
	ActionDelete = "delete"
	ActionOn     = "on"
	ActionOff    = "off"
	ActionReboot = "reboot"
	ActionResize = "resize"
	ActionStatus = "status"
)

// Team groups users for shared access to servers and apps. Rules fully
// replace prior state on every save: permissions absent from the new rule
// set are revoked, not left untouched.
type Team struct {
	ID        string
	Name      string
	Rules     []TeamRule
	CreatedAt time.Time
}

// TeamRule grants a member a set of permissions within a team.
type TeamRule struct {
	Member        string
	IsManager     bool
	PermissionIDs []int64
}

// ObjectType scopes a permission definition to an entity kind.
type ObjectType string

const (
	ObjectServer ObjectType = "server"
	ObjectApp    ObjectType = "app"
)

// PermissionDefinition is a named capability (e.g. "view_server").
type PermissionDefinition struct {
	ID         int64
	Name       string
	ObjectType ObjectType
	Category   string
	Group      int // UI bucketing only
}

// PermissionAssignment is one row of the relational grant table. Revoking
// flips Granted to false; rows are never deleted.
type PermissionAssignment struct {
	TeamID       string
	UserID       string
	PermissionID int64
	Granted      bool
}

// LogKind discriminates log entries stored in the shared log bucket.
type LogKind string

const (
	LogKindCommand    LogKind = "command"
	LogKindSSH        LogKind = "ssh"
	LogKindError      LogKind = "error"
	LogKindNotify     LogKind = "notify"
	LogKindNotifySent LogKind = "notify-sent"
)

// LogEntry is a log record attached to a server or app. Notify entries
// carry Sent/NotificationCount; notify-sent entries record per-channel
// delivery outcomes in Fields.
type LogEntry struct {
	ID       string
	ParentID string
	Kind     LogKind
	Message  string

	// Notify-kind fields.
	NotifyType        string
	NotifyReference   string
	Sent              bool
	NotificationCount int

	Fields    map[string]string
	CreatedAt time.Time
}

// AlertProfile is a user's notification subscription. Empty selector
// slices match every item the user is authorized to see.
type AlertProfile struct {
	ID     string
	UserID string

	Emails         []string
	SlackWebhooks  []string
	ZapierWebhooks []string

	ServerIDs        []string
	AppIDs           []string
	NotifyTypes      []string
	NotifyReferences []string

	CreatedAt time.Time
}

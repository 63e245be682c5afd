package provider

import (
	"context"

	"github.com/paddockhq/paddock/pkg/types"
)

// Result is the normalized outcome of a provider API call.
type Result struct {
	// Status is the provider-reported status of the operation:
	// "in-progress", "completed", or a provider-specific value passed
	// through untouched.
	Status string

	// ActionID is the provider-side correlation token for a long-running
	// operation. Empty for synchronous results.
	ActionID string
}

// Provider-reported status values the reconciler acts on. Anything else
// is treated as still running and re-polled next tick.
const (
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// Gateway abstracts a cloud provider's server API. Implementations wrap
// the concrete DigitalOcean/AWS/etc. clients and normalize their
// responses; they are external collaborators and live outside this
// module. Calls must honor ctx cancellation so a stuck provider cannot
// stall a reconciliation tick.
type Gateway interface {
	// Call starts an action (create, delete, on, off, reboot) against
	// the server's provider instance.
	Call(ctx context.Context, action string, server *types.Server) (Result, error)

	// Status polls a previously returned action token.
	Status(ctx context.Context, actionID string) (Result, error)
}

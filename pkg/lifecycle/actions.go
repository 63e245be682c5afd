package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/provider"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// historyLimit bounds the per-entity action history. When trimming, a
// single "purged" marker record replaces the evicted prefix.
const historyLimit = 15

// historyPurgedMarker is the action name of the trim marker record.
const historyPurgedMarker = "purged"

// PollOutcome reports what a poll did to an entity.
type PollOutcome int

const (
	PollNoChange PollOutcome = iota
	PollCompleted
)

// AvailabilityHook may veto command availability for a server. Hooks run
// after the built-in state check and can only narrow the answer.
type AvailabilityHook func(server *types.Server) bool

// Manager drives deferred provider actions for servers and apps: it
// requests actions, polls in-flight ones, and keeps the action state
// fields consistent. All transitions hold a per-entity lock so a
// concurrent explicit request and a reconciler poll cannot double-apply.
type Manager struct {
	store       storage.Store
	gateway     provider.Gateway
	callTimeout time.Duration

	hooksMu sync.RWMutex
	hooks   []AvailabilityHook

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager.
func NewManager(store storage.Store, gateway provider.Gateway, callTimeout time.Duration) *Manager {
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}
	return &Manager{
		store:       store,
		gateway:     gateway,
		callTimeout: callTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
}

// AddAvailabilityHook registers a veto hook for IsAvailableForCommands.
func (m *Manager) AddAvailabilityHook(hook AvailabilityHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// entityLock returns the mutex guarding one entity's action state.
func (m *Manager) entityLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

// IsAvailableForCommands reports whether command-class actions may run
// against the server. A server is available when its state is unset (new
// servers default open) or exactly "active". Registered hooks may veto.
func (m *Manager) IsAvailableForCommands(serverID string) bool {
	server, err := m.store.GetServer(serverID)
	if err != nil {
		return false
	}
	if server.CurrentState != "" && server.CurrentState != types.StateActive {
		return false
	}
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	for _, hook := range m.hooks {
		if !hook(server) {
			return false
		}
	}
	return true
}

// RequestServerAction asks the provider to start an action against a
// server. On provider error the server stays idle with ActionError set;
// there is no automatic retry, the caller must re-invoke. On an
// "in-progress" reply the action state fields are set together and the
// reconciler takes over. A request while another action is in flight is
// a new, independent action, not a cancellation of the pending one.
func (m *Manager) RequestServerAction(ctx context.Context, serverID, action string) error {
	mu := m.entityLock(serverID)
	mu.Lock()
	defer mu.Unlock()

	server, err := m.store.GetServer(serverID)
	if err != nil {
		return fmt.Errorf("request %s: %w", action, err)
	}
	if action == types.ActionDelete && server.DeleteProtected {
		return fmt.Errorf("server %s is delete-protected", serverID)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	metrics.ActionsRequested.WithLabelValues(action).Inc()
	result, err := m.gateway.Call(callCtx, action, server)
	if err != nil {
		server.ActionError = err.Error()
		if updateErr := m.store.UpdateServer(server); updateErr != nil {
			log.WithServerID(serverID).Error().Err(updateErr).Msg("failed to record action error")
		}
		m.appendErrorLog(serverID, action, err)
		return fmt.Errorf("provider call %s failed: %w", action, err)
	}

	switch result.Status {
	case provider.StatusInProgress:
		server.Action = action
		server.ActionID = result.ActionID
		server.ActionStatus = types.ActionStatusInProgress
		server.ActionStartedAt = time.Now()
		server.CurrentState = "performing " + action
		server.ActionError = ""
		server.ActionHistory = appendHistory(server.ActionHistory, action)
		if err := m.store.UpdateServer(server); err != nil {
			return fmt.Errorf("persist action state: %w", err)
		}
		log.WithServerID(serverID).Info().
			Str("action", action).
			Str("action_id", result.ActionID).
			Msg("action in progress")
	case provider.StatusCompleted:
		// Synchronous completion; no polling needed.
		completeServerAction(server, action)
		if err := m.store.UpdateServer(server); err != nil {
			return fmt.Errorf("persist action state: %w", err)
		}
		metrics.ActionTransitions.WithLabelValues("completed").Inc()
		log.WithServerID(serverID).Info().Str("action", action).Msg("action completed synchronously")
	default:
		log.WithServerID(serverID).Warn().
			Str("action", action).
			Str("status", result.Status).
			Msg("unexpected provider status on request")
	}
	return nil
}

// RequestAppAction mirrors RequestServerAction for apps.
func (m *Manager) RequestAppAction(ctx context.Context, appID, action string) error {
	mu := m.entityLock(appID)
	mu.Lock()
	defer mu.Unlock()

	app, err := m.store.GetApp(appID)
	if err != nil {
		return fmt.Errorf("request %s: %w", action, err)
	}
	if action == types.ActionDelete && app.DeleteProtected {
		return fmt.Errorf("app %s is delete-protected", appID)
	}

	server, err := m.store.GetServer(app.ParentServerID)
	if err != nil {
		return fmt.Errorf("request %s: parent server: %w", action, err)
	}
	if !m.IsAvailableForCommands(server.ID) {
		return fmt.Errorf("request %s: parent server %s is not available for commands", action, server.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	metrics.ActionsRequested.WithLabelValues(action).Inc()
	result, err := m.gateway.Call(callCtx, action, server)
	if err != nil {
		app.ActionError = err.Error()
		if updateErr := m.store.UpdateApp(app); updateErr != nil {
			log.WithAppID(appID).Error().Err(updateErr).Msg("failed to record action error")
		}
		m.appendErrorLog(appID, action, err)
		return fmt.Errorf("provider call %s failed: %w", action, err)
	}

	switch result.Status {
	case provider.StatusInProgress:
		app.Action = action
		app.ActionID = result.ActionID
		app.ActionStatus = types.ActionStatusInProgress
		app.ActionStartedAt = time.Now()
		app.CurrentState = "performing " + action
		app.ActionError = ""
		app.ActionHistory = appendHistory(app.ActionHistory, action)
		if err := m.store.UpdateApp(app); err != nil {
			return fmt.Errorf("persist action state: %w", err)
		}
		log.WithAppID(appID).Info().
			Str("action", action).
			Str("action_id", result.ActionID).
			Msg("action in progress")
	case provider.StatusCompleted:
		completeAppAction(app, action)
		if err := m.store.UpdateApp(app); err != nil {
			return fmt.Errorf("persist action state: %w", err)
		}
		metrics.ActionTransitions.WithLabelValues("completed").Inc()
	default:
		log.WithAppID(appID).Warn().
			Str("action", action).
			Str("status", result.Status).
			Msg("unexpected provider status on request")
	}
	return nil
}

// PollServer advances one server's in-flight action. A server with no
// in-progress action is a no-op. Any non-completed provider status
// leaves state untouched for the next tick; this layer enforces no
// timeout (the stale-action sweep does).
func (m *Manager) PollServer(ctx context.Context, serverID string) (PollOutcome, error) {
	mu := m.entityLock(serverID)
	mu.Lock()
	defer mu.Unlock()

	server, err := m.store.GetServer(serverID)
	if err != nil {
		return PollNoChange, err
	}
	if server.ActionStatus != types.ActionStatusInProgress {
		return PollNoChange, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	result, err := m.gateway.Status(callCtx, server.ActionID)
	if err != nil {
		// Transient poll failure; re-poll next tick.
		log.WithServerID(serverID).Warn().Err(err).Str("action_id", server.ActionID).Msg("status poll failed")
		return PollNoChange, nil
	}
	if result.Status != provider.StatusCompleted {
		return PollNoChange, nil
	}

	action := server.Action
	completeServerAction(server, action)
	if err := m.store.UpdateServer(server); err != nil {
		return PollNoChange, fmt.Errorf("persist completion: %w", err)
	}
	metrics.ActionTransitions.WithLabelValues("completed").Inc()
	log.WithServerID(serverID).Info().Str("action", action).Msg("action completed")
	return PollCompleted, nil
}

// PollApp mirrors PollServer for apps.
func (m *Manager) PollApp(ctx context.Context, appID string) (PollOutcome, error) {
	mu := m.entityLock(appID)
	mu.Lock()
	defer mu.Unlock()

	app, err := m.store.GetApp(appID)
	if err != nil {
		return PollNoChange, err
	}
	if app.ActionStatus != types.ActionStatusInProgress {
		return PollNoChange, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	result, err := m.gateway.Status(callCtx, app.ActionID)
	if err != nil {
		log.WithAppID(appID).Warn().Err(err).Str("action_id", app.ActionID).Msg("status poll failed")
		return PollNoChange, nil
	}
	if result.Status != provider.StatusCompleted {
		return PollNoChange, nil
	}

	action := app.Action
	completeAppAction(app, action)
	if err := m.store.UpdateApp(app); err != nil {
		return PollNoChange, fmt.Errorf("persist completion: %w", err)
	}
	metrics.ActionTransitions.WithLabelValues("completed").Inc()
	log.WithAppID(appID).Info().Str("action", action).Msg("action completed")
	return PollCompleted, nil
}

// MarkServerStale fails a long-stuck in-progress action: state fields
// clear together and the error surfaces on the entity.
func (m *Manager) MarkServerStale(serverID string) error {
	mu := m.entityLock(serverID)
	mu.Lock()
	defer mu.Unlock()

	server, err := m.store.GetServer(serverID)
	if err != nil {
		return err
	}
	if server.ActionStatus != types.ActionStatusInProgress {
		return nil
	}
	action := server.Action
	clearActionFields(&server.Action, &server.ActionID, &server.ActionStatus, &server.ActionStartedAt)
	server.CurrentState = ""
	server.ActionError = fmt.Sprintf("action %s abandoned: no completion from provider", action)
	if err := m.store.UpdateServer(server); err != nil {
		return fmt.Errorf("persist stale state: %w", err)
	}
	m.appendErrorLog(serverID, action, fmt.Errorf("declared stale"))
	metrics.ActionTransitions.WithLabelValues("stale").Inc()
	return nil
}

// MarkAppStale mirrors MarkServerStale for apps.
func (m *Manager) MarkAppStale(appID string) error {
	mu := m.entityLock(appID)
	mu.Lock()
	defer mu.Unlock()

	app, err := m.store.GetApp(appID)
	if err != nil {
		return err
	}
	if app.ActionStatus != types.ActionStatusInProgress {
		return nil
	}
	action := app.Action
	clearActionFields(&app.Action, &app.ActionID, &app.ActionStatus, &app.ActionStartedAt)
	app.CurrentState = ""
	app.ActionError = fmt.Sprintf("action %s abandoned: no completion from provider", action)
	if err := m.store.UpdateApp(app); err != nil {
		return fmt.Errorf("persist stale state: %w", err)
	}
	m.appendErrorLog(appID, action, fmt.Errorf("declared stale"))
	metrics.ActionTransitions.WithLabelValues("stale").Inc()
	return nil
}

// completeServerAction clears the action triple atomically and writes an
// explicit terminal state. The source system only set a terminal state
// for "off" completions and left others unset; that asymmetry looked
// like an oversight, so every completion sets a state here.
func completeServerAction(server *types.Server, action string) {
	clearActionFields(&server.Action, &server.ActionID, &server.ActionStatus, &server.ActionStartedAt)
	server.CurrentState = terminalState(action)
	if action == types.ActionResize && server.PendingSizeRaw != "" {
		server.SizeRaw = server.PendingSizeRaw
		server.PendingSizeRaw = ""
	}
	server.ActionHistory = appendHistory(server.ActionHistory, action+" completed")
}

func completeAppAction(app *types.App, action string) {
	clearActionFields(&app.Action, &app.ActionID, &app.ActionStatus, &app.ActionStartedAt)
	app.CurrentState = terminalState(action)
	app.ActionHistory = appendHistory(app.ActionHistory, action+" completed")
}

func clearActionFields(action, actionID, actionStatus *string, startedAt *time.Time) {
	*action = ""
	*actionID = ""
	*actionStatus = ""
	*startedAt = time.Time{}
}

func terminalState(action string) string {
	switch action {
	case types.ActionOff, types.ActionDelete:
		return types.StateOff
	default:
		return types.StateActive
	}
}

// appendHistory appends a record and trims to historyLimit, inserting a
// purge marker as the oldest record when trimming occurs.
func appendHistory(records []types.ActionRecord, action string) []types.ActionRecord {
	records = append(records, types.ActionRecord{At: time.Now(), Action: action})
	if len(records) <= historyLimit {
		return records
	}
	trimmed := make([]types.ActionRecord, 0, historyLimit)
	trimmed = append(trimmed, types.ActionRecord{At: time.Now(), Action: historyPurgedMarker})
	trimmed = append(trimmed, records[len(records)-(historyLimit-1):]...)
	return trimmed
}

func (m *Manager) appendErrorLog(parentID, action string, cause error) {
	entry := &types.LogEntry{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		Kind:      types.LogKindError,
		Message:   fmt.Sprintf("action %s failed: %v", action, cause),
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendLog(entry); err != nil {
		log.WithComponent("lifecycle").Error().Err(err).Msg("failed to append error log")
	}
}

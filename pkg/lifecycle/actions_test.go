package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/provider"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// fakeGateway scripts provider responses per action/token.
type fakeGateway struct {
	callResult   provider.Result
	callErr      error
	statusResult provider.Result
	statusErr    error

	calls    int
	statuses int
	lastID   string
}

func (g *fakeGateway) Call(ctx context.Context, action string, server *types.Server) (provider.Result, error) {
	g.calls++
	return g.callResult, g.callErr
}

func (g *fakeGateway) Status(ctx context.Context, actionID string) (provider.Result, error) {
	g.statuses++
	g.lastID = actionID
	return g.statusResult, g.statusErr
}

func newTestManager(t *testing.T, gw provider.Gateway) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store, gw, time.Second), store
}

func seedServer(t *testing.T, store storage.Store, server *types.Server) {
	t.Helper()
	require.NoError(t, store.CreateServer(server))
}

// TestRequestServerActionInProgress tests the transition into deferred state
func TestRequestServerActionInProgress(t *testing.T) {
	gw := &fakeGateway{callResult: provider.Result{Status: provider.StatusInProgress, ActionID: "abc"}}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1", Name: "web-1"})

	require.NoError(t, m.RequestServerAction(context.Background(), "srv-1", types.ActionOff))

	server, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, types.ActionStatusInProgress, server.ActionStatus)
	assert.Equal(t, types.ActionOff, server.Action)
	assert.Equal(t, "abc", server.ActionID)
	assert.Equal(t, "performing off", server.CurrentState)
	assert.False(t, server.ActionStartedAt.IsZero())
	require.Len(t, server.ActionHistory, 1)
	assert.Equal(t, types.ActionOff, server.ActionHistory[0].Action)
}

// TestRequestServerActionProviderError tests that failures leave the server idle
func TestRequestServerActionProviderError(t *testing.T) {
	gw := &fakeGateway{callErr: errors.New("quota exceeded")}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1"})

	err := m.RequestServerAction(context.Background(), "srv-1", types.ActionReboot)
	require.Error(t, err)

	server, getErr := store.GetServer("srv-1")
	require.NoError(t, getErr)
	assert.Empty(t, server.ActionStatus)
	assert.Empty(t, server.Action)
	assert.Empty(t, server.ActionID)
	assert.Contains(t, server.ActionError, "quota exceeded")

	// The failure is also recorded as an error log against the server.
	logs, logErr := store.ListLogsByKind(types.LogKindError)
	require.NoError(t, logErr)
	require.Len(t, logs, 1)
	assert.Equal(t, "srv-1", logs[0].ParentID)
	assert.Contains(t, logs[0].Message, "reboot")
}

// TestRequestServerActionDeleteProtected tests the protection guard
func TestRequestServerActionDeleteProtected(t *testing.T) {
	gw := &fakeGateway{callResult: provider.Result{Status: provider.StatusInProgress, ActionID: "abc"}}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1", DeleteProtected: true})

	err := m.RequestServerAction(context.Background(), "srv-1", types.ActionDelete)
	require.Error(t, err)
	assert.Equal(t, 0, gw.calls, "protected delete must not reach the provider")

	// Other actions are unaffected.
	require.NoError(t, m.RequestServerAction(context.Background(), "srv-1", types.ActionReboot))
}

// TestResizeCompletionAppliesPendingSize tests the size swap on completion
func TestResizeCompletionAppliesPendingSize(t *testing.T) {
	gw := &fakeGateway{
		callResult:   provider.Result{Status: provider.StatusInProgress, ActionID: "rz"},
		statusResult: provider.Result{Status: provider.StatusCompleted},
	}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1", SizeRaw: "s-1vcpu-1gb", PendingSizeRaw: "s-2vcpu-4gb"})

	require.NoError(t, m.RequestServerAction(context.Background(), "srv-1", types.ActionResize))
	outcome, err := m.PollServer(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, PollCompleted, outcome)

	server, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, "s-2vcpu-4gb", server.SizeRaw)
	assert.Empty(t, server.PendingSizeRaw)
	assert.Equal(t, types.StateActive, server.CurrentState)
}

// TestRequestServerActionSynchronousCompletion tests the no-polling path
func TestRequestServerActionSynchronousCompletion(t *testing.T) {
	gw := &fakeGateway{callResult: provider.Result{Status: provider.StatusCompleted}}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1"})

	require.NoError(t, m.RequestServerAction(context.Background(), "srv-1", types.ActionReboot))

	server, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Empty(t, server.ActionStatus)
	assert.Equal(t, types.StateActive, server.CurrentState)
}

// TestPollServerLifecycle tests the full off-action round trip
func TestPollServerLifecycle(t *testing.T) {
	gw := &fakeGateway{
		callResult:   provider.Result{Status: provider.StatusInProgress, ActionID: "abc"},
		statusResult: provider.Result{Status: provider.StatusInProgress},
	}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1"})

	require.NoError(t, m.RequestServerAction(context.Background(), "srv-1", types.ActionOff))

	// Provider still working: nothing changes.
	outcome, err := m.PollServer(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, PollNoChange, outcome)

	server, _ := store.GetServer("srv-1")
	assert.Equal(t, types.ActionStatusInProgress, server.ActionStatus)

	// Provider reports completion: action fields clear together and the
	// terminal state is written.
	gw.statusResult = provider.Result{Status: provider.StatusCompleted}
	outcome, err = m.PollServer(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, PollCompleted, outcome)
	assert.Equal(t, "abc", gw.lastID)

	server, _ = store.GetServer("srv-1")
	assert.Empty(t, server.Action)
	assert.Empty(t, server.ActionID)
	assert.Empty(t, server.ActionStatus)
	assert.True(t, server.ActionStartedAt.IsZero())
	assert.Equal(t, types.StateOff, server.CurrentState)
}

// TestPollServerNoAction tests that idle servers are a no-op
func TestPollServerNoAction(t *testing.T) {
	gw := &fakeGateway{}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1", CurrentState: types.StateActive})

	outcome, err := m.PollServer(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, PollNoChange, outcome)
	assert.Equal(t, 0, gw.statuses)
}

// TestPollServerTransientError tests that poll failures leave state for the next tick
func TestPollServerTransientError(t *testing.T) {
	gw := &fakeGateway{
		callResult: provider.Result{Status: provider.StatusInProgress, ActionID: "abc"},
		statusErr:  errors.New("provider unreachable"),
	}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1"})
	require.NoError(t, m.RequestServerAction(context.Background(), "srv-1", types.ActionReboot))

	outcome, err := m.PollServer(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, PollNoChange, outcome)

	server, _ := store.GetServer("srv-1")
	assert.Equal(t, types.ActionStatusInProgress, server.ActionStatus)
	assert.Equal(t, "abc", server.ActionID)
}

// TestTerminalState tests the action-to-state mapping
func TestTerminalState(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{types.ActionOff, types.StateOff},
		{types.ActionDelete, types.StateOff},
		{types.ActionOn, types.StateActive},
		{types.ActionReboot, types.StateActive},
		{types.ActionCreate, types.StateActive},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, terminalState(tt.action))
		})
	}
}

// TestAppendHistoryBound tests the purge-marker trim
func TestAppendHistoryBound(t *testing.T) {
	var records []types.ActionRecord
	for i := 0; i < 30; i++ {
		records = appendHistory(records, fmt.Sprintf("action-%d", i))
	}

	require.Len(t, records, historyLimit)
	assert.Equal(t, historyPurgedMarker, records[0].Action)
	assert.Equal(t, "action-29", records[len(records)-1].Action)
}

// TestAppendHistoryNoTrimBelowLimit tests that short histories keep everything
func TestAppendHistoryNoTrimBelowLimit(t *testing.T) {
	var records []types.ActionRecord
	for i := 0; i < historyLimit; i++ {
		records = appendHistory(records, "reboot")
	}
	assert.Len(t, records, historyLimit)
	assert.NotEqual(t, historyPurgedMarker, records[0].Action)
}

// TestIsAvailableForCommands tests the state gate and hook veto
func TestIsAvailableForCommands(t *testing.T) {
	gw := &fakeGateway{}
	m, store := newTestManager(t, gw)

	seedServer(t, store, &types.Server{ID: "srv-new"})
	seedServer(t, store, &types.Server{ID: "srv-active", CurrentState: types.StateActive})
	seedServer(t, store, &types.Server{ID: "srv-off", CurrentState: types.StateOff})
	seedServer(t, store, &types.Server{ID: "srv-busy", CurrentState: "performing reboot"})

	assert.True(t, m.IsAvailableForCommands("srv-new"), "empty state defaults open")
	assert.True(t, m.IsAvailableForCommands("srv-active"))
	assert.False(t, m.IsAvailableForCommands("srv-off"))
	assert.False(t, m.IsAvailableForCommands("srv-busy"))
	assert.False(t, m.IsAvailableForCommands("missing"))

	// A hook can only narrow the answer.
	m.AddAvailabilityHook(func(server *types.Server) bool {
		return server.ID != "srv-active"
	})
	assert.False(t, m.IsAvailableForCommands("srv-active"))
	assert.True(t, m.IsAvailableForCommands("srv-new"))
}

// TestMarkServerStale tests abandoning a stuck action
func TestMarkServerStale(t *testing.T) {
	gw := &fakeGateway{callResult: provider.Result{Status: provider.StatusInProgress, ActionID: "abc"}}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1"})
	require.NoError(t, m.RequestServerAction(context.Background(), "srv-1", types.ActionReboot))

	require.NoError(t, m.MarkServerStale("srv-1"))

	server, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Empty(t, server.Action)
	assert.Empty(t, server.ActionID)
	assert.Empty(t, server.ActionStatus)
	assert.True(t, server.ActionStartedAt.IsZero())
	assert.Contains(t, server.ActionError, "abandoned")

	// Marking an idle server is a no-op.
	server.ActionError = ""
	require.NoError(t, store.UpdateServer(server))
	require.NoError(t, m.MarkServerStale("srv-1"))
	server, _ = store.GetServer("srv-1")
	assert.Empty(t, server.ActionError)
}

// TestRequestAppAction tests that app actions run against the parent server
func TestRequestAppAction(t *testing.T) {
	gw := &fakeGateway{callResult: provider.Result{Status: provider.StatusInProgress, ActionID: "xyz"}}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1", CurrentState: types.StateActive})
	require.NoError(t, store.CreateApp(&types.App{ID: "app-1", ParentServerID: "srv-1"}))

	require.NoError(t, m.RequestAppAction(context.Background(), "app-1", types.ActionOff))

	app, err := store.GetApp("app-1")
	require.NoError(t, err)
	assert.Equal(t, types.ActionStatusInProgress, app.ActionStatus)
	assert.Equal(t, "xyz", app.ActionID)

	// Missing parent server fails the request before any provider call.
	require.NoError(t, store.CreateApp(&types.App{ID: "app-orphan", ParentServerID: "srv-gone"}))
	err = m.RequestAppAction(context.Background(), "app-orphan", types.ActionOff)
	assert.Error(t, err)
}

// TestRequestAppActionParentUnavailable tests the parent availability gate
func TestRequestAppActionParentUnavailable(t *testing.T) {
	gw := &fakeGateway{callResult: provider.Result{Status: provider.StatusInProgress, ActionID: "xyz"}}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-off", CurrentState: types.StateOff})
	require.NoError(t, store.CreateApp(&types.App{ID: "app-1", ParentServerID: "srv-off"}))

	err := m.RequestAppAction(context.Background(), "app-1", types.ActionOff)
	require.Error(t, err)
	assert.Equal(t, 0, gw.calls)
}

// TestPollAppCompletion tests the app completion path
func TestPollAppCompletion(t *testing.T) {
	gw := &fakeGateway{
		callResult:   provider.Result{Status: provider.StatusInProgress, ActionID: "xyz"},
		statusResult: provider.Result{Status: provider.StatusCompleted},
	}
	m, store := newTestManager(t, gw)
	seedServer(t, store, &types.Server{ID: "srv-1"})
	require.NoError(t, store.CreateApp(&types.App{ID: "app-1", ParentServerID: "srv-1"}))
	require.NoError(t, m.RequestAppAction(context.Background(), "app-1", types.ActionOn))

	outcome, err := m.PollApp(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, PollCompleted, outcome)

	app, _ := store.GetApp("app-1")
	assert.Empty(t, app.ActionStatus)
	assert.Equal(t, types.StateActive, app.CurrentState)
}

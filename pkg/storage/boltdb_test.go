package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockhq/paddock/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestServerCRUD tests basic server persistence
func TestServerCRUD(t *testing.T) {
	store := newTestStore(t)

	server := &types.Server{
		ID:       "srv-1",
		Name:     "web-1",
		Owner:    "user-1",
		Provider: "digitalocean",
		IPv4:     "203.0.113.10",
	}
	require.NoError(t, store.CreateServer(server))

	got, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, "web-1", got.Name)
	assert.Equal(t, "user-1", got.Owner)

	got.CurrentState = types.StateActive
	require.NoError(t, store.UpdateServer(got))

	updated, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, updated.CurrentState)

	require.NoError(t, store.DeleteServer("srv-1"))
	_, err = store.GetServer("srv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestGetServerNotFound tests the not-found sentinel
func TestGetServerNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetServer("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetApp("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetTeam("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestListAppsByServer tests filtering apps by parent server
func TestListAppsByServer(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateApp(&types.App{ID: "app-1", ParentServerID: "srv-1"}))
	require.NoError(t, store.CreateApp(&types.App{ID: "app-2", ParentServerID: "srv-1"}))
	require.NoError(t, store.CreateApp(&types.App{ID: "app-3", ParentServerID: "srv-2"}))

	apps, err := store.ListAppsByServer("srv-1")
	require.NoError(t, err)
	assert.Len(t, apps, 2)

	apps, err = store.ListAppsByServer("srv-9")
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func appendLogAt(t *testing.T, store *BoltStore, kind types.LogKind, id string, at time.Time) {
	t.Helper()
	require.NoError(t, store.AppendLog(&types.LogEntry{
		ID:        id,
		ParentID:  "srv-1",
		Kind:      kind,
		Message:   "entry " + id,
		CreatedAt: at,
	}))
}

// TestLogOrderingOldestFirst tests that kind scans return creation order
func TestLogOrderingOldestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	// Insert out of order; keys must still sort by creation time.
	appendLogAt(t, store, types.LogKindCommand, "c", base.Add(3*time.Minute))
	appendLogAt(t, store, types.LogKindCommand, "a", base.Add(1*time.Minute))
	appendLogAt(t, store, types.LogKindCommand, "b", base.Add(2*time.Minute))

	entries, err := store.ListLogsByKind(types.LogKindCommand)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
	assert.Equal(t, "c", entries[2].ID)
}

// TestLogKindIsolation tests that kinds do not bleed into each other
func TestLogKindIsolation(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	appendLogAt(t, store, types.LogKindCommand, "cmd-1", now)
	appendLogAt(t, store, types.LogKindError, "err-1", now)
	appendLogAt(t, store, types.LogKindNotify, "ntf-1", now)

	count, err := store.CountLogs(types.LogKindCommand)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.CountLogs(types.LogKindError)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestDeleteOldestLogs tests bounded oldest-first eviction
func TestDeleteOldestLogs(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		appendLogAt(t, store, types.LogKindSSH, fmt.Sprintf("ssh-%02d", i), base.Add(time.Duration(i)*time.Minute))
	}

	deleted, err := store.DeleteOldestLogs(types.LogKindSSH, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	entries, err := store.ListLogsByKind(types.LogKindSSH)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	// The oldest survivor is the fifth insert.
	assert.Equal(t, "ssh-04", entries[0].ID)

	// Asking for more than remain deletes what is there.
	deleted, err = store.DeleteOldestLogs(types.LogKindSSH, 100)
	require.NoError(t, err)
	assert.Equal(t, 6, deleted)

	deleted, err = store.DeleteOldestLogs(types.LogKindSSH, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

// TestListUnsentNotifications tests the unsent batch scan
func TestListUnsentNotifications(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		entry := &types.LogEntry{
			ID:        fmt.Sprintf("ntf-%d", i),
			Kind:      types.LogKindNotify,
			Message:   "m",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if i == 1 {
			entry.Sent = true
		}
		require.NoError(t, store.AppendLog(entry))
	}

	entries, err := store.ListUnsentNotifications(10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "ntf-0", entries[0].ID)

	entries, err = store.ListUnsentNotifications(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// TestGetNotifyLogAndUpdate tests lookup by ID and in-place rewrite
func TestGetNotifyLogAndUpdate(t *testing.T) {
	store := newTestStore(t)

	entry := &types.LogEntry{
		ID:                "ntf-1",
		Kind:              types.LogKindNotify,
		Message:           "action completed",
		NotificationCount: 1,
		CreatedAt:         time.Now(),
	}
	require.NoError(t, store.AppendLog(entry))

	got, err := store.GetNotifyLog("ntf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.NotificationCount)

	got.NotificationCount = 2
	require.NoError(t, store.UpdateLog(got))

	again, err := store.GetNotifyLog("ntf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.NotificationCount)

	// Update must not duplicate the entry.
	count, err := store.CountLogs(types.LogKindNotify)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetNotifyLog("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestAlertProfileCRUD tests alert profile persistence
func TestAlertProfileCRUD(t *testing.T) {
	store := newTestStore(t)

	profile := &types.AlertProfile{
		ID:     "ap-1",
		UserID: "user-1",
		Emails: []string{"ops@example.com"},
	}
	require.NoError(t, store.CreateAlertProfile(profile))

	got, err := store.GetAlertProfile("ap-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	profiles, err := store.ListAlertProfiles()
	require.NoError(t, err)
	assert.Len(t, profiles, 1)

	require.NoError(t, store.DeleteAlertProfile("ap-1"))
	_, err = store.GetAlertProfile("ap-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/paddockhq/paddock/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketServers       = []byte("servers")
	bucketApps          = []byte("apps")
	bucketTeams         = []byte("teams")
	bucketLogs          = []byte("logs")
	bucketAlertProfiles = []byte("alert_profiles")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "paddock.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketServers,
			bucketApps,
			bucketTeams,
			bucketLogs,
			bucketAlertProfiles,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Server operations
func (s *BoltStore) CreateServer(server *types.Server) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		data, err := json.Marshal(server)
		if err != nil {
			return err
		}
		return b.Put([]byte(server.ID), data)
	})
}

func (s *BoltStore) GetServer(id string) (*types.Server, error) {
	var server types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("server %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &server)
	})
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.ForEach(func(k, v []byte) error {
			var server types.Server
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			servers = append(servers, &server)
			return nil
		})
	})
	return servers, err
}

func (s *BoltStore) UpdateServer(server *types.Server) error {
	return s.CreateServer(server) // Same as create (upsert)
}

func (s *BoltStore) DeleteServer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.Delete([]byte(id))
	})
}

// App operations
func (s *BoltStore) CreateApp(app *types.App) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return b.Put([]byte(app.ID), data)
	})
}

func (s *BoltStore) GetApp(id string) (*types.App, error) {
	var app types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("app %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *BoltStore) ListApps() ([]*types.App, error) {
	var apps []*types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		return b.ForEach(func(k, v []byte) error {
			var app types.App
			if err := json.Unmarshal(v, &app); err != nil {
				return err
			}
			apps = append(apps, &app)
			return nil
		})
	})
	return apps, err
}

func (s *BoltStore) ListAppsByServer(serverID string) ([]*types.App, error) {
	apps, err := s.ListApps()
	if err != nil {
		return nil, err
	}

	var filtered []*types.App
	for _, app := range apps {
		if app.ParentServerID == serverID {
			filtered = append(filtered, app)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateApp(app *types.App) error {
	return s.CreateApp(app)
}

func (s *BoltStore) DeleteApp(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		return b.Delete([]byte(id))
	})
}

// Team operations
func (s *BoltStore) CreateTeam(team *types.Team) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTeams)
		data, err := json.Marshal(team)
		if err != nil {
			return err
		}
		return b.Put([]byte(team.ID), data)
	})
}

func (s *BoltStore) GetTeam(id string) (*types.Team, error) {
	var team types.Team
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTeams)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("team %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &team)
	})
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *BoltStore) ListTeams() ([]*types.Team, error) {
	var teams []*types.Team
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTeams)
		return b.ForEach(func(k, v []byte) error {
			var team types.Team
			if err := json.Unmarshal(v, &team); err != nil {
				return err
			}
			teams = append(teams, &team)
			return nil
		})
	})
	return teams, err
}

func (s *BoltStore) UpdateTeam(team *types.Team) error {
	return s.CreateTeam(team)
}

func (s *BoltStore) DeleteTeam(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTeams)
		return b.Delete([]byte(id))
	})
}

// Log operations.
//
// Log keys are "<kind>/<zero-padded unix nanos>/<id>" so a cursor walk
// over a kind prefix yields entries oldest-first. Eviction and the unsent
// notification batch rely on this ordering.
func logKey(entry *types.LogEntry) []byte {
	return []byte(fmt.Sprintf("%s/%020d/%s", entry.Kind, entry.CreatedAt.UnixNano(), entry.ID))
}

func logKindPrefix(kind types.LogKind) []byte {
	return []byte(string(kind) + "/")
}

func (s *BoltStore) AppendLog(entry *types.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(logKey(entry), data)
	})
}

// UpdateLog rewrites an entry in place. Kind, CreatedAt and ID must not
// change, or the entry lands under a new key.
func (s *BoltStore) UpdateLog(entry *types.LogEntry) error {
	return s.AppendLog(entry)
}

func (s *BoltStore) ListLogsByKind(kind types.LogKind) ([]*types.LogEntry, error) {
	var entries []*types.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		prefix := logKindPrefix(kind)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry types.LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

// GetNotifyLog finds a notify entry by ID with a prefix scan. Notify
// volume is bounded by retention, so the scan stays cheap.
func (s *BoltStore) GetNotifyLog(id string) (*types.LogEntry, error) {
	var found *types.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		prefix := logKindPrefix(types.LogKindNotify)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry types.LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.ID == id {
				found = &entry
				return nil
			}
		}
		return fmt.Errorf("notify log %s: %w", id, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *BoltStore) ListUnsentNotifications(limit int) ([]*types.LogEntry, error) {
	var entries []*types.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		prefix := logKindPrefix(types.LogKindNotify)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry types.LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Sent {
				continue
			}
			entries = append(entries, &entry)
			if len(entries) >= limit {
				return nil
			}
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) CountLogs(kind types.LogKind) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		prefix := logKindPrefix(kind)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// DeleteOldestLogs removes up to max entries of the given kind,
// oldest-first, and returns how many were deleted.
func (s *BoltStore) DeleteOldestLogs(kind types.LogKind, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		prefix := logKindPrefix(kind)
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			keys = append(keys, keyCopy)
			if len(keys) >= max {
				break
			}
		}
		b := tx.Bucket(bucketLogs)
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Alert profile operations
func (s *BoltStore) CreateAlertProfile(profile *types.AlertProfile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlertProfiles)
		data, err := json.Marshal(profile)
		if err != nil {
			return err
		}
		return b.Put([]byte(profile.ID), data)
	})
}

func (s *BoltStore) GetAlertProfile(id string) (*types.AlertProfile, error) {
	var profile types.AlertProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlertProfiles)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("alert profile %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &profile)
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *BoltStore) ListAlertProfiles() ([]*types.AlertProfile, error) {
	var profiles []*types.AlertProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlertProfiles)
		return b.ForEach(func(k, v []byte) error {
			var profile types.AlertProfile
			if err := json.Unmarshal(v, &profile); err != nil {
				return err
			}
			profiles = append(profiles, &profile)
			return nil
		})
	})
	return profiles, err
}

func (s *BoltStore) DeleteAlertProfile(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlertProfiles)
		return b.Delete([]byte(id))
	})
}

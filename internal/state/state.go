// Package state keeps the local auth event history in a bbolt database
// next to the credential file.
package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/seedclub/seednet-mcp/internal/models"
)

const (
	// FileName is the database file inside the config directory.
	FileName = "state.db"

	// stateDirPerm is the permission mode for the config directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// DefaultOpenTimeout is the maximum time to wait for the bolt
	// database lock held by another process.
	DefaultOpenTimeout = 5 * time.Second

	// maxEvents is how many history entries are kept.
	maxEvents = 200
)

var authEventsBucket = []byte("auth_events")

// State wraps a bbolt database holding the auth event history. Events
// never contain the token.
type State struct {
	db *bolt.DB
}

// Load opens dir/state.db.
func Load(dir string) (*State, error) {
	return LoadAt(filepath.Join(dir, FileName))
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	return LoadWithTimeout(path, DefaultOpenTimeout)
}

// LoadWithTimeout is LoadAt with a custom lock wait. Short-lived CLI
// commands use a small timeout so a running server does not block them.
func LoadWithTimeout(path string, timeout time.Duration) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(authEventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Record appends an event and trims the history to the newest entries.
func (s *State) Record(ev models.AuthEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding auth event: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(authEventsBucket)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		return trim(b, maxEvents)
	})
}

// Events returns up to limit events, newest first. limit <= 0 returns
// all of them.
func (s *State) Events(limit int) ([]models.AuthEvent, error) {
	var events []models.AuthEvent

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(authEventsBucket).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(events) >= limit {
				break
			}

			var ev models.AuthEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decoding auth event %d: %w", binary.BigEndian.Uint64(k), err)
			}

			events = append(events, ev)
		}

		return nil
	})

	return events, err
}

// LastEvent returns the newest event, or nil if there is none.
func (s *State) LastEvent() (*models.AuthEvent, error) {
	events, err := s.Events(1)
	if err != nil || len(events) == 0 {
		return nil, err
	}

	return &events[0], nil
}

// trim deletes the oldest entries so at most keep remain.
func trim(b *bolt.Bucket, keep int) error {
	var keys [][]byte

	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	excess := len(keys) - keep
	for i := 0; i < excess; i++ {
		if err := b.Delete(keys[i]); err != nil {
			return err
		}
	}

	return nil
}

// seqKey encodes a sequence number so byte order matches numeric order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)

	return k
}

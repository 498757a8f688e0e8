// Package credentials persists the single Seed Network credential record
// in a user-private file.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	apperrors "github.com/seedclub/seednet-mcp/internal/errors"
	"github.com/seedclub/seednet-mcp/internal/models"
)

const (
	// TokenFileName is the credential file inside the config directory.
	TokenFileName = "token"

	// dirPerm restricts the config directory to the owning user.
	dirPerm = fs.FileMode(0o700)

	// filePerm restricts the credential file to the owning user.
	filePerm = fs.FileMode(0o600)

	// lockTimeout bounds how long Write and Clear wait for another
	// process holding the lock.
	lockTimeout = 5 * time.Second
)

// StoreError reports a filesystem failure while persisting, reading or
// clearing the credential record.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("credential store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches ErrStore so callers can test the error kind without
// unwrapping to the concrete type.
func (e *StoreError) Is(target error) bool { return target == apperrors.ErrStore }

// Store reads and writes the credential file.
type Store struct {
	dir  string
	path string
	now  func() time.Time
}

// NewStore returns a store rooted at dir. The directory is created on
// the first Write.
func NewStore(dir string) *Store {
	return &Store{
		dir:  dir,
		path: filepath.Join(dir, TokenFileName),
		now:  time.Now,
	}
}

// DefaultDir returns ~/.config/seed-network.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".config", "seed-network"), nil
}

// Path returns the credential file path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the stored credential. Any missing, unreadable or
// malformed record, including one whose token lacks the sn_ prefix, is
// reported as absent.
func (s *Store) Read() (models.Credential, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return models.Credential{}, false
	}

	var cred models.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return models.Credential{}, false
	}

	if !models.ValidToken(cred.Token) {
		return models.Credential{}, false
	}

	return cred, true
}

// Write replaces the credential record. The record is written to a
// temporary file and renamed into place so a crash cannot leave a
// half-written token behind.
func (s *Store) Write(token, accountLabel, endpointBase string) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return &StoreError{Op: "write", Path: s.dir, Err: err}
	}

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	cred := models.Credential{
		Token:        token,
		AccountLabel: accountLabel,
		IssuedAt:     s.now().UTC(),
		EndpointBase: endpointBase,
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return &StoreError{Op: "write", Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, ".token-*")
	if err != nil {
		return &StoreError{Op: "write", Path: s.path, Err: err}
	}
	tmpName := tmp.Name()

	// CreateTemp already uses 0600 on Unix. Chmod again for platforms
	// where it does not; failures there are not fatal.
	_ = tmp.Chmod(filePerm)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StoreError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StoreError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "write", Path: s.path, Err: err}
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "write", Path: s.path, Err: err}
	}

	_ = os.Chmod(s.path, filePerm)

	return nil
}

// Clear removes the credential record. It reports whether a record was
// present; a missing file is not an error.
func (s *Store) Clear() (bool, error) {
	if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	unlock, err := s.lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	err = os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &StoreError{Op: "clear", Path: s.path, Err: err}
	}

	return true, nil
}

// lock takes the cross-process lock guarding writes and removals.
func (s *Store) lock() (func(), error) {
	fileLock := flock.New(s.path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, &StoreError{Op: "lock", Path: fileLock.Path(), Err: err}
	}
	if !locked {
		return nil, &StoreError{Op: "lock", Path: fileLock.Path(), Err: fmt.Errorf("timeout after %v", lockTimeout)}
	}

	return func() { _ = fileLock.Unlock() }, nil
}

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// currentFile is the bookmark filename inside the config directory.
const currentFile = "current_session"

// Current is the CLI's local bookmark: the session the last chat command
// touched. It lives on disk, not in PostgreSQL, because it is per-machine
// UX state rather than conversation data.
type Current struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Key converts the bookmark to a store key.
func (c Current) Key() Key {
	return Key{AppName: c.AppName, UserID: c.UserID, ID: c.SessionID}
}

func currentPath(dir string) string {
	return filepath.Join(dir, currentFile)
}

// SaveCurrent persists the bookmark to dir atomically: the JSON is written
// to a temp file and renamed into place, under a file lock so concurrent
// CLI invocations cannot interleave.
func SaveCurrent(dir string, cur Current) error {
	if err := cur.Key().Validate(); err != nil {
		return err
	}
	path := currentPath(dir)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("failed to encode current session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, currentFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// LoadCurrent reads the bookmark from dir.
//
// Returns (nil, nil) if no bookmark exists; that is not an error.
func LoadCurrent(dir string) (*Current, error) {
	path := currentPath(dir)

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var cur Current
	if err := json.Unmarshal(data, &cur); err != nil {
		return nil, fmt.Errorf("invalid state file: %w", err)
	}
	if err := cur.Key().Validate(); err != nil {
		return nil, fmt.Errorf("invalid state file: %w", err)
	}
	return &cur, nil
}

// ClearCurrent removes the bookmark. Idempotent: clearing when no bookmark
// exists is not an error.
func ClearCurrent(dir string) error {
	err := os.Remove(currentPath(dir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// Package store persists the session record and the exported cookie jar.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/config"
)

// ErrNoSession is returned by Load when no record has been saved.
var ErrNoSession = errors.New("no session record")

// SessionStore owns the durable session record. Writes replace the file atomically,
// so a failed save leaves the previous record intact.
type SessionStore struct {
	fs          afero.Fs
	path        string
	profileDir  string
	validity    time.Duration
	browserType string
	log         *zap.Logger

	// Now is the clock used for new records and validity checks.
	Now func() time.Time

	mu sync.Mutex
}

// NewSessionStore creates a store rooted at the configured session file.
func NewSessionStore(fs afero.Fs, cfg config.Interface, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		fs:          fs,
		path:        cfg.Session().FilePath(),
		profileDir:  cfg.Browser().UserDataDir,
		validity:    cfg.Session().Validity,
		browserType: cfg.Session().BrowserType,
		log:         logger.Named("session_store"),
		Now:         time.Now,
	}
}

// Path is the location of the session record.
func (s *SessionStore) Path() string { return s.path }

// NewRecord starts a logged-in record valid for the configured window from now.
func (s *SessionStore) NewRecord(method schemas.LoginMethod) schemas.SessionRecord {
	now := s.Now()
	return schemas.SessionRecord{
		LoggedIn:    true,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.validity),
		Method:      method,
		SessionID:   uuid.NewString(),
		BrowserType: s.browserType,
	}
}

// Save atomically replaces the stored record.
func (s *SessionStore) Save(record schemas.SessionRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.fs, s.path, data); err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	s.log.Info("Session saved.",
		zap.String("path", s.path),
		zap.String("method", string(record.Method)),
		zap.String("session_id", record.SessionID),
		zap.Time("expires_at", record.ExpiresAt))
	return nil
}

// Load reads the stored record. A missing file yields ErrNoSession.
func (s *SessionStore) Load() (*schemas.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}
	var record schemas.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	return &record, nil
}

// IsValid reports whether a stored record asserts a live session. It never fails:
// a missing, unreadable or expired record is simply not valid.
func (s *SessionStore) IsValid() bool {
	record, err := s.Load()
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			s.log.Warn("Ignoring unreadable session record.", zap.Error(err))
		}
		return false
	}
	return record.ValidAt(s.Now())
}

// Clear deletes the record and the persistent browser profile. Missing targets are fine.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to remove session record: %w", err))
	}
	if s.profileDir != "" {
		if err := s.fs.RemoveAll(s.profileDir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove browser profile: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.log.Info("Session cleared.", zap.String("path", s.path), zap.String("profile", s.profileDir))
	return nil
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(fs afero.Fs, path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fs, dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp.Name(), path)
}

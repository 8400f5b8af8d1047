package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/cookies"
)

// KeyFileStore reads and writes a JSON document at a fixed path, creating parent
// directories on write.
type KeyFileStore struct {
	fs   afero.Fs
	path string
	log  *zap.Logger
}

// NewKeyFileStore creates a store for the document at path.
func NewKeyFileStore(fs afero.Fs, path string, logger *zap.Logger) *KeyFileStore {
	return &KeyFileStore{fs: fs, path: path, log: logger.Named("key_file")}
}

// Path is the location of the document.
func (k *KeyFileStore) Path() string { return k.path }

// Write encodes v and atomically replaces the document.
func (k *KeyFileStore) Write(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", k.path, err)
	}
	if err := writeAtomic(k.fs, k.path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", k.path, err)
	}
	return nil
}

// Read decodes the document into v. A missing file is reported as os.ErrNotExist.
func (k *KeyFileStore) Read(v interface{}) error {
	data, err := afero.ReadFile(k.fs, k.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", k.path, err)
	}
	return nil
}

// SaveCookies exports records in the cookie file layout.
func (k *KeyFileStore) SaveCookies(records []schemas.CookieRecord, extractedAt time.Time) error {
	if err := k.Write(cookies.NewFile(records, extractedAt)); err != nil {
		return err
	}
	k.log.Info("Cookies exported.", zap.String("path", k.path), zap.Int("count", len(records)))
	return nil
}

// LoadCookies reads the cookie file. A missing file yields an empty list.
// Both the exported layout and a bare JSON array are accepted.
func (k *KeyFileStore) LoadCookies() ([]schemas.CookieRecord, error) {
	data, err := afero.ReadFile(k.fs, k.path)
	if errors.Is(err, os.ErrNotExist) {
		return []schemas.CookieRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", k.path, err)
	}
	return DecodeCookies(data)
}

// DecodeCookies parses either a cookie file document or a bare array of records.
func DecodeCookies(data []byte) ([]schemas.CookieRecord, error) {
	var records []schemas.CookieRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var file schemas.CookieFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode cookies: %w", err)
	}
	if file.Cookies == nil {
		return []schemas.CookieRecord{}, nil
	}
	return file.Cookies, nil
}

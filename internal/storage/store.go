// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable key/value store behind ollachat
// sessions.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store is a durable string key/value store.
//
// Get reports ok=false for a missing key. Delete of a missing key is not an
// error. Implementations are safe for concurrent use.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// =============================================================================
// BACKENDS
// =============================================================================

// Backend names a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendMemory Backend = "memory"
)

// Backends lists every supported backend name.
func Backends() []Backend {
	return []Backend{BackendFile, BackendSQLite, BackendMemory}
}

// Valid reports whether b names a supported backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendFile, BackendSQLite, BackendMemory:
		return true
	}
	return false
}

// Options selects and locates a backend.
type Options struct {
	Backend Backend

	// Path is the data directory (file) or database file (sqlite).
	// Empty means the default under ~/.ollachat.
	Path string
}

// DefaultDir returns the ollachat data root (~/.ollachat).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollachat"), nil
}

// DefaultPath returns the default location for backend.
func DefaultPath(b Backend) (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	switch b {
	case BackendSQLite:
		return filepath.Join(dir, "ollachat.db"), nil
	default:
		return filepath.Join(dir, "data"), nil
	}
}

// Open constructs the backend named by opts.
func Open(opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = BackendFile
	}
	if !backend.Valid() {
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
	if backend == BackendMemory {
		return NewMemoryStore(), nil
	}

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		var err error
		if path, err = DefaultPath(backend); err != nil {
			return nil, fmt.Errorf("resolve storage path: %w", err)
		}
	}

	if backend == BackendSQLite {
		return NewSQLiteStore(path)
	}
	return NewFileStore(path)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrClosed is returned by operations on a closed store.
// Use errors.Is(err, ErrClosed) to check for this error.
var ErrClosed = &StoreError{Message: "store is closed"}

// ErrInvalidKey is returned for keys that are empty or not file-name safe.
var ErrInvalidKey = &StoreError{Message: "invalid key"}

// StoreError represents a storage-related error.
// It implements the error interface and can be compared using errors.Is.
type StoreError struct {
	Message string
	Key     string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return e.Message + ": " + e.Key
	}
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// validateKey accepts letters, digits, '_', '-' and '.', not starting with '.'.
func validateKey(key string) error {
	if key == "" || len(key) > 128 || key[0] == '.' {
		return &StoreError{Message: ErrInvalidKey.Message, Key: key}
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return &StoreError{Message: ErrInvalidKey.Message, Key: key}
		}
	}
	return nil
}

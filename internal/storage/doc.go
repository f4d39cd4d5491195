// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable key/value store behind ollachat
// sessions.
//
// The session manager keeps two entries, the serialized session collection
// and the active session id, so the contract is deliberately small: string
// values addressed by short keys.
//
// # Key Types
//
//   - Store: Get/Set/Delete contract shared by all backends
//   - FileStore: one file per key, written atomically (default)
//   - SQLiteStore: single-table SQLite database (pure Go driver)
//   - MemoryStore: process-local map for tests and ephemeral runs
//
// # Usage
//
//	store, err := storage.Open(storage.Options{Backend: storage.BackendFile, Path: dir})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Set("active_session_id", id)
//	value, ok, err := store.Get("active_session_id")
//
// # Storage Location
//
// By default data lives in ~/.ollachat/data/ (file backend) or
// ~/.ollachat/ollachat.db (SQLite backend).
package storage

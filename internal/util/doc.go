// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for ollachat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - TruncateWidth, PadWidth: display-width aware layout helpers
//   - SingleLine: fold line breaks for one-line previews
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - ReplaceFile: atomic rename without fsync, for frequent rewrites
//
// # Usage
//
//	title := util.TruncateWidth(session.Title, 24)
//	err := util.AtomicWriteFile(path, data, 0600)
package util

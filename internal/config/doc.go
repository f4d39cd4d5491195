// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for ollachat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, .env files and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - OllamaConfig: Server address, timeout and preferred model
//   - StorageConfig: Session storage backend and location
//   - ChatConfig: Placeholder, failure text and title rules
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Command-line flags (applied by the cli package)
//   - Environment variables (OLLACHAT_*, OLLAMA_HOST), including .env files
//   - ~/.ollachat/config.toml
//   - ~/.ollachat/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Follow edits while running:
//
//	err = config.Watch(ctx, path, func(cfg *config.Config, err error) {
//	    // apply cfg
//	})
package config

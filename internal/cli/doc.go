// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the ollachat command line.
//
// Commands are built with cobra around an App, which resolves configuration
// once in the root PersistentPreRunE and wires storage, sessions, the Ollama
// client and the orchestrator on demand:
//
//	ollachat                  full-screen chat (line chat when not on a terminal)
//	ollachat chat             line chat with slash commands
//	ollachat ask <prompt>     one-shot answer, not saved
//	ollachat models           installed models
//	ollachat status           server, model and session summary
//	ollachat sessions ...     list, rename, delete, export
//	ollachat config ...       show, get, set, path, init
//	ollachat version
//
// Global flags (--config, --ollama-url, --model, --storage, --log-level,
// --ephemeral) override environment and file settings.
//
// Output is colored only when stdout is a terminal, honouring NO_COLOR and
// FORCE_COLOR. Commands with --json write a JSONResponse envelope.
package cli

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatview provides the full-screen chat interface.
//
// The view holds no chat state of its own. It renders snapshots taken from
// a Controller (the orchestrator) whenever the controller reports a change,
// and turns key presses into controller actions.
//
// # Refreshes
//
// Change callbacks arrive from generation goroutines, sometimes while the
// session manager holds its lock. The view only records them in a one-slot
// channel; a command drains the slot, waits on a rate limiter and delivers
// one refresh message, so a fast stream costs at most RefreshRate redraws per
// second.
//
// # Keys
//
//	Enter     send              Ctrl+S    stop
//	Ctrl+R    regenerate        Ctrl+N    new chat
//	Ctrl+D    delete chat       Ctrl+Up/Down switch chat
//	Ctrl+E    rename            Ctrl+Y    copy last reply
//	Tab       next model        Esc       quit
package chatview

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the persisted collection of chat sessions.
//
// The Manager is the only writer of session state. It keeps the sessions in
// creation order, tracks the active one and writes both to a storage.Store
// under two keys after every change:
//
//   - chat_sessions: JSON array of sessions with their messages
//   - active_session_id: id of the active session
//
// # Invariants
//
// There is always exactly one active session. Loading an empty or unreadable
// store, or deleting the last session, creates a fresh one.
//
// A session still carrying the default title takes its title from the first
// user message the first time it holds messages. Explicit renames stick.
//
// # Usage
//
//	mgr := session.NewManager(store, session.DefaultConfig())
//	mgr.SetOnChange(refresh)
//	mgr.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
//	    return chat.AppendUserThenPlaceholderReply(msgs, user, replyID)
//	})
package session

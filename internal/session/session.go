// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the persisted collection of chat sessions.
package session

import (
	"errors"
	"time"

	"github.com/jeranaias/ollachat/internal/chat"
)

// =============================================================================
// SESSION TYPE
// =============================================================================

// Storage keys for the persisted state.
const (
	KeySessions      = "chat_sessions"
	KeyActiveSession = "active_session_id"
)

// DefaultTitle is the title of a session nobody has named yet.
const DefaultTitle = "New conversation"

// Session is one conversation. UpdatedAt is never before CreatedAt.
type Session struct {
	ID        string         `json:"id" yaml:"id"`
	Title     string         `json:"title" yaml:"title"`
	CreatedAt int64          `json:"createdAt" yaml:"createdAt"` // epoch milliseconds
	UpdatedAt int64          `json:"updatedAt" yaml:"updatedAt"` // epoch milliseconds
	Messages  []chat.Message `json:"messages" yaml:"messages"`
}

// Created returns CreatedAt as a time.
func (s Session) Created() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// Updated returns UpdatedAt as a time.
func (s Session) Updated() time.Time {
	return time.UnixMilli(s.UpdatedAt)
}

// Preview returns the first user message, truncated for listings.
func (s Session) Preview(maxRunes int) string {
	title, _ := chat.DeriveTitle(s.Messages, maxRunes)
	return title
}

func (s Session) clone() Session {
	out := s
	out.Messages = make([]chat.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrSessionNotFound is returned for an unknown session id.
// Use errors.Is(err, ErrSessionNotFound) to check for this error.
var ErrSessionNotFound = errors.New("session not found")

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the chat message record and the pure helpers that
// mutate message sequences.
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultPlaceholder is the content of an assistant reply before the first
// fragment arrives.
const DefaultPlaceholder = "Thinking..."

// DefaultTitleRunes is how many leading characters of the first user
// message become the session title.
const DefaultTitleRunes = 30

// Message is one chat message. Content may change only while neither
// IsFinished nor IsError is set.
type Message struct {
	ID         string `json:"id" yaml:"id"`
	Role       Role   `json:"role" yaml:"role"`
	Content    string `json:"content" yaml:"content"`
	Timestamp  int64  `json:"timestamp" yaml:"timestamp"` // epoch milliseconds
	IsFinished bool   `json:"isFinished,omitempty" yaml:"isFinished,omitempty"`
	IsError    bool   `json:"isError,omitempty" yaml:"isError,omitempty"`
}

// NewID returns a fresh message or session identifier.
func NewID() string {
	return uuid.NewString()
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NewUserMessage creates a user message stamped at the given time.
func NewUserMessage(content string, at time.Time) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: Millis(at),
	}
}

// Sealed reports whether the message can no longer change.
func (m Message) Sealed() bool {
	return m.IsFinished || m.IsError
}

// Copyable reports whether the message holds a complete reply worth copying.
func (m Message) Copyable() bool {
	return m.Role == RoleAssistant && m.IsFinished && !m.IsError
}

// Regenerable reports whether the message is a sealed assistant reply.
func (m Message) Regenerable() bool {
	return m.Role == RoleAssistant && m.Sealed()
}

// =============================================================================
// SEQUENCE HELPERS
// =============================================================================

// ReplyOption customises a placeholder reply.
type ReplyOption func(*Message)

// WithPlaceholder overrides the placeholder content.
func WithPlaceholder(text string) ReplyOption {
	return func(m *Message) {
		if text != "" {
			m.Content = text
		}
	}
}

// WithTimestamp overrides the placeholder timestamp.
func WithTimestamp(at time.Time) ReplyOption {
	return func(m *Message) {
		m.Timestamp = Millis(at)
	}
}

func newPlaceholder(id string, opts []ReplyOption) Message {
	m := Message{
		ID:        id,
		Role:      RoleAssistant,
		Content:   DefaultPlaceholder,
		Timestamp: Millis(time.Now()),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// AppendPlaceholderReply returns a copy of msgs followed by an unfinished
// assistant placeholder with the given id.
func AppendPlaceholderReply(msgs []Message, newID string, opts ...ReplyOption) []Message {
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	return append(out, newPlaceholder(newID, opts))
}

// AppendUserThenPlaceholderReply returns a copy of msgs followed by user and
// then an unfinished assistant placeholder with the given id.
func AppendUserThenPlaceholderReply(msgs []Message, user Message, newID string, opts ...ReplyOption) []Message {
	out := make([]Message, 0, len(msgs)+2)
	out = append(out, msgs...)
	out = append(out, user)
	return append(out, newPlaceholder(newID, opts))
}

// DeltaOption sets a seal flag in ApplyDelta.
type DeltaOption func(*Message)

// Finished marks the target message as finished.
func Finished() DeltaOption {
	return func(m *Message) { m.IsFinished = true }
}

// Errored marks the target message as failed.
func Errored() DeltaOption {
	return func(m *Message) { m.IsError = true }
}

// ApplyDelta returns a copy of msgs where the message with targetID carries
// content and any flags given by opts. Flags that are not given keep their
// value. An unknown targetID returns msgs itself.
func ApplyDelta(msgs []Message, targetID, content string, opts ...DeltaOption) []Message {
	idx := Index(msgs, targetID)
	if idx < 0 {
		return msgs
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	out[idx].Content = content
	for _, opt := range opts {
		opt(&out[idx])
	}
	return out
}

// Index returns the position of the message with id, or -1.
func Index(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// Last returns the final message, if any.
func Last(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// LastCopyable returns the most recent finished assistant reply.
func LastCopyable(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Copyable() {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// LastAssistant returns the most recent assistant message.
func LastAssistant(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// DeriveTitle builds a session title from the first user message: its
// leading maxRunes characters on one line, with "..." when cut.
func DeriveTitle(msgs []Message, maxRunes int) (string, bool) {
	if maxRunes <= 0 {
		maxRunes = DefaultTitleRunes
	}
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(util.SingleLine(norm.NFC.String(m.Content)))
		if text == "" {
			return "", false
		}
		runes := []rune(text)
		if len(runes) > maxRunes {
			return string(runes[:maxRunes]) + "...", true
		}
		return text, true
	}
	return "", false
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the persisted collection of chat sessions.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/logging"
	"github.com/jeranaias/ollachat/internal/storage"
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager is the single writer of the session collection.
//
// At least one session exists and one is active at all times. Every mutation
// is written through to the store; write failures are logged and the
// in-memory state is kept.
type Manager struct {
	mu sync.Mutex

	store  storage.Store
	logger *log.Logger
	now    func() time.Time

	// Title handling
	defaultTitle string
	titleRunes   int

	// Ordered by creation
	sessions []Session
	activeID string

	// Callbacks
	onChange func()
}

// Config holds configuration for the session manager.
type Config struct {
	// DefaultTitle is the sentinel title of new sessions (default: "New conversation")
	DefaultTitle string

	// TitleRunes is how much of the first user message becomes the title (default: 30)
	TitleRunes int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	Logger *log.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTitle: DefaultTitle,
		TitleRunes:   chat.DefaultTitleRunes,
	}
}

// NewManager creates a manager over store and loads the persisted state.
// Missing or unreadable data yields a single fresh session.
func NewManager(store storage.Store, cfg Config) *Manager {
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = DefaultTitle
	}
	if cfg.TitleRunes <= 0 {
		cfg.TitleRunes = chat.DefaultTitleRunes
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	m := &Manager{
		store:        store,
		logger:       logging.Component(cfg.Logger, "session"),
		now:          cfg.Clock,
		defaultTitle: cfg.DefaultTitle,
		titleRunes:   cfg.TitleRunes,
	}
	m.mu.Lock()
	m.load()
	m.mu.Unlock()
	return m
}

// SetOnChange registers fn to run after every mutation, outside the lock.
func (m *Manager) SetOnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// DefaultTitle returns the sentinel title of new sessions.
func (m *Manager) DefaultTitle() string {
	return m.defaultTitle
}

// =============================================================================
// READ VIEWS
// =============================================================================

// Sessions returns copies of all sessions in creation order.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, len(m.sessions))
	for i, s := range m.sessions {
		out[i] = s.clone()
	}
	return out
}

// Session returns a copy of the session with id.
func (m *Manager) Session(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.index(id)
	if idx < 0 {
		return Session{}, false
	}
	return m.sessions[idx].clone(), true
}

// ActiveSessionID returns the id of the active session.
func (m *Manager) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// ActiveSession returns a copy of the active session.
func (m *Manager) ActiveSession() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.index(m.activeID); idx >= 0 {
		return m.sessions[idx].clone()
	}
	return Session{}
}

// ActiveMessages returns a copy of the active session's messages.
func (m *Manager) ActiveMessages() []chat.Message {
	return m.ActiveSession().Messages
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreateSession appends a new empty session, activates it and returns its
// id. An empty title means the default title.
func (m *Manager) CreateSession(title string) string {
	m.mu.Lock()
	s := m.newSession(title)
	m.sessions = append(m.sessions, s)
	m.activeID = s.ID
	m.persist()
	fn := m.onChange
	m.mu.Unlock()

	m.logger.Debug("session created", "id", s.ID)
	notify(fn)
	return s.ID
}

// SwitchSession activates the session with id.
func (m *Manager) SwitchSession(id string) error {
	m.mu.Lock()
	if m.index(id) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("switch %q: %w", id, ErrSessionNotFound)
	}
	if m.activeID == id {
		m.mu.Unlock()
		return nil
	}
	m.activeID = id
	m.persistActive()
	fn := m.onChange
	m.mu.Unlock()

	notify(fn)
	return nil
}

// DeleteSession removes the session with id. When it was active the first
// remaining session becomes active; when none remain a fresh one is created.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	idx := m.index(id)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("delete %q: %w", id, ErrSessionNotFound)
	}

	m.sessions = append(m.sessions[:idx:idx], m.sessions[idx+1:]...)
	if m.activeID == id {
		if len(m.sessions) == 0 {
			m.sessions = append(m.sessions, m.newSession(""))
		}
		m.activeID = m.sessions[0].ID
	}
	m.persist()
	fn := m.onChange
	m.mu.Unlock()

	m.logger.Debug("session deleted", "id", id)
	notify(fn)
	return nil
}

// UpdateSessionTitle renames a session. A title that trims to empty is
// ignored.
func (m *Manager) UpdateSessionTitle(id, title string) error {
	title = strings.TrimSpace(title)

	m.mu.Lock()
	idx := m.index(id)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("rename %q: %w", id, ErrSessionNotFound)
	}
	if title == "" {
		m.mu.Unlock()
		return nil
	}
	s := &m.sessions[idx]
	s.Title = title
	m.touch(s)
	m.persistSessions()
	fn := m.onChange
	m.mu.Unlock()

	notify(fn)
	return nil
}

// UpdateActiveSessionMessages replaces the active session's messages with
// update(messages). It is the only write path for message lists.
//
// update runs under the manager lock and must not call back into the
// manager. It must not modify its argument; returning the argument itself
// means nothing changed, and the session is neither touched nor persisted.
// Reports whether a change was applied.
func (m *Manager) UpdateActiveSessionMessages(update func([]chat.Message) []chat.Message) bool {
	m.mu.Lock()
	idx := m.index(m.activeID)
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	s := &m.sessions[idx]
	next := update(s.Messages)
	if sameSlice(next, s.Messages) {
		m.mu.Unlock()
		return false
	}
	if next == nil {
		next = []chat.Message{}
	}
	s.Messages = next
	m.touch(s)
	if s.Title == m.defaultTitle && len(s.Messages) > 0 {
		if title, ok := chat.DeriveTitle(s.Messages, m.titleRunes); ok {
			s.Title = title
		}
	}
	m.persistSessions()
	fn := m.onChange
	m.mu.Unlock()

	notify(fn)
	return true
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// load reads both keys and restores the self-healing invariant. Caller holds mu.
func (m *Manager) load() {
	m.sessions = m.readSessions()

	active, ok, err := m.store.Get(KeyActiveSession)
	if err != nil {
		m.logger.Error("failed to read active session", "key", KeyActiveSession, "err", err)
	}
	if ok && m.index(active) >= 0 {
		m.activeID = active
	} else if len(m.sessions) > 0 {
		m.activeID = m.sessions[0].ID
	}

	if len(m.sessions) == 0 {
		s := m.newSession("")
		m.sessions = []Session{s}
		m.activeID = s.ID
	}

	m.persist()
	m.logger.Debug("sessions loaded", "count", len(m.sessions), "active", m.activeID)
}

func (m *Manager) readSessions() []Session {
	raw, ok, err := m.store.Get(KeySessions)
	if err != nil {
		m.logger.Error("failed to read sessions", "key", KeySessions, "err", err)
		return nil
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}

	var stored []Session
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		m.logger.Error("discarding unreadable sessions", "key", KeySessions, "err", err)
		return nil
	}

	// Drop entries that would break id lookups
	seen := make(map[string]bool, len(stored))
	out := stored[:0]
	for _, s := range stored {
		if s.ID == "" || seen[s.ID] {
			m.logger.Warn("skipping invalid stored session", "id", s.ID)
			continue
		}
		seen[s.ID] = true
		if s.Messages == nil {
			s.Messages = []chat.Message{}
		}
		if s.UpdatedAt < s.CreatedAt {
			s.UpdatedAt = s.CreatedAt
		}
		out = append(out, s)
	}
	return out
}

// persist writes both keys. Caller holds mu.
func (m *Manager) persist() {
	m.persistSessions()
	m.persistActive()
}

func (m *Manager) persistSessions() {
	data, err := json.Marshal(m.sessions)
	if err != nil {
		m.logger.Error("failed to encode sessions", "err", err)
		return
	}
	if err := m.store.Set(KeySessions, string(data)); err != nil {
		m.logger.Error("failed to persist sessions", "key", KeySessions, "err", err)
	}
}

func (m *Manager) persistActive() {
	if err := m.store.Set(KeyActiveSession, m.activeID); err != nil {
		m.logger.Error("failed to persist active session", "key", KeyActiveSession, "err", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Manager) newSession(title string) Session {
	title = strings.TrimSpace(title)
	if title == "" {
		title = m.defaultTitle
	}
	now := chat.Millis(m.now())
	return Session{
		ID:        chat.NewID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []chat.Message{},
	}
}

// touch bumps UpdatedAt, never below CreatedAt.
func (m *Manager) touch(s *Session) {
	now := chat.Millis(m.now())
	if now < s.CreatedAt {
		now = s.CreatedAt
	}
	s.UpdatedAt = now
}

func (m *Manager) index(id string) int {
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// sameSlice reports whether a and b are the same slice value.
func sameSlice(a, b []chat.Message) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}

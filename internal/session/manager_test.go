// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// fakeClock advances one second per reading.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestManager(t *testing.T, store storage.Store) *Manager {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	cfg := DefaultConfig()
	cfg.Clock = newFakeClock().Now
	return NewManager(store, cfg)
}

func appendExchange(m *Manager, text string) string {
	replyID := chat.NewID()
	m.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		return chat.AppendUserThenPlaceholderReply(msgs, chat.NewUserMessage(text, time.UnixMilli(1)), replyID)
	})
	return replyID
}

// failingStore rejects every write.
type failingStore struct{ *storage.MemoryStore }

func (failingStore) Set(string, string) error { return errors.New("disk full") }

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestNewManager_EmptyStoreCreatesOneSession(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, store)

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, DefaultTitle, sessions[0].Title)
	assert.Equal(t, sessions[0].ID, m.ActiveSessionID())
	assert.Empty(t, sessions[0].Messages)

	// The healed state is persisted
	active, ok, err := store.Get(KeyActiveSession)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sessions[0].ID, active)
}

func TestNewManager_CorruptSessions(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(KeySessions, "{not json"))
	require.NoError(t, store.Set(KeyActiveSession, "ghost"))

	m := newTestManager(t, store)

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, sessions[0].ID, m.ActiveSessionID())
}

func TestNewManager_UnknownActiveFallsBackToFirst(t *testing.T) {
	store := storage.NewMemoryStore()
	stored := []Session{
		{ID: "s1", Title: "one", CreatedAt: 1, UpdatedAt: 2, Messages: []chat.Message{}},
		{ID: "s2", Title: "two", CreatedAt: 3, UpdatedAt: 4, Messages: []chat.Message{}},
	}
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	require.NoError(t, store.Set(KeySessions, string(data)))
	require.NoError(t, store.Set(KeyActiveSession, "missing"))

	m := newTestManager(t, store)

	assert.Equal(t, "s1", m.ActiveSessionID())
	assert.Len(t, m.Sessions(), 2)
}

func TestNewManager_SkipsInvalidEntries(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(KeySessions,
		`[{"id":"","title":"x"},{"id":"a","title":"A","createdAt":5,"updatedAt":1,"messages":null},{"id":"a","title":"dup"}]`))
	require.NoError(t, store.Set(KeyActiveSession, "a"))

	m := newTestManager(t, store)

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "A", sessions[0].Title)
	assert.NotNil(t, sessions[0].Messages)
	assert.Equal(t, int64(5), sessions[0].UpdatedAt, "updatedAt clamps to createdAt")
}

func TestNewManager_RestoresActive(t *testing.T) {
	store := storage.NewMemoryStore()
	m1 := newTestManager(t, store)
	m1.CreateSession("second")
	id := m1.CreateSession("third")
	require.NoError(t, m1.SwitchSession(id))

	m2 := newTestManager(t, store)
	assert.Equal(t, id, m2.ActiveSessionID())
	assert.Len(t, m2.Sessions(), 3)
}

// =============================================================================
// MUTATION TESTS
// =============================================================================

func TestCreateSession(t *testing.T) {
	m := newTestManager(t, nil)

	id := m.CreateSession("  Planning  ")
	assert.Equal(t, id, m.ActiveSessionID())

	s, ok := m.Session(id)
	require.True(t, ok)
	assert.Equal(t, "Planning", s.Title)
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)

	blank := m.CreateSession("")
	s, _ = m.Session(blank)
	assert.Equal(t, DefaultTitle, s.Title)

	// Insertion order
	sessions := m.Sessions()
	require.Len(t, sessions, 3)
	assert.Equal(t, id, sessions[1].ID)
	assert.Equal(t, blank, sessions[2].ID)
}

func TestSwitchSession(t *testing.T) {
	m := newTestManager(t, nil)
	first := m.ActiveSessionID()
	m.CreateSession("other")

	require.NoError(t, m.SwitchSession(first))
	assert.Equal(t, first, m.ActiveSessionID())

	err := m.SwitchSession("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, first, m.ActiveSessionID(), "unknown id must not change state")
}

func TestDeleteSession_ActivatesFirstRemaining(t *testing.T) {
	m := newTestManager(t, nil)
	first := m.ActiveSessionID()
	second := m.CreateSession("b")
	third := m.CreateSession("c")

	require.NoError(t, m.DeleteSession(third))
	assert.Equal(t, first, m.ActiveSessionID())

	// Deleting an inactive session leaves the pointer alone
	require.NoError(t, m.SwitchSession(second))
	require.NoError(t, m.DeleteSession(first))
	assert.Equal(t, second, m.ActiveSessionID())
}

func TestDeleteSession_LastSessionSelfHeals(t *testing.T) {
	m := newTestManager(t, nil)
	only := m.ActiveSessionID()
	appendExchange(m, "hello")

	require.NoError(t, m.DeleteSession(only))

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.NotEqual(t, only, sessions[0].ID)
	assert.Equal(t, sessions[0].ID, m.ActiveSessionID())
	assert.Empty(t, sessions[0].Messages)
}

func TestDeleteSession_Unknown(t *testing.T) {
	m := newTestManager(t, nil)
	assert.ErrorIs(t, m.DeleteSession("nope"), ErrSessionNotFound)
	assert.Len(t, m.Sessions(), 1)
}

func TestUpdateSessionTitle(t *testing.T) {
	m := newTestManager(t, nil)
	id := m.ActiveSessionID()
	before, _ := m.Session(id)

	require.NoError(t, m.UpdateSessionTitle(id, "  Trip ideas "))
	after, _ := m.Session(id)
	assert.Equal(t, "Trip ideas", after.Title)
	assert.Greater(t, after.UpdatedAt, before.UpdatedAt)

	// Blank titles are ignored
	require.NoError(t, m.UpdateSessionTitle(id, "   "))
	again, _ := m.Session(id)
	assert.Equal(t, after, again)

	assert.ErrorIs(t, m.UpdateSessionTitle("nope", "x"), ErrSessionNotFound)
}

func TestUpdateActiveSessionMessages_AutoTitle(t *testing.T) {
	m := newTestManager(t, nil)

	appendExchange(m, "What is the capital of France and why is it Paris?")
	s := m.ActiveSession()
	assert.Equal(t, "What is the capital of France ...", s.Title)
	require.Len(t, s.Messages, 2)

	// Later messages do not retitle
	appendExchange(m, "Something else")
	assert.Equal(t, "What is the capital of France ...", m.ActiveSession().Title)
}

func TestUpdateActiveSessionMessages_ShortTitleNoEllipsis(t *testing.T) {
	m := newTestManager(t, nil)
	appendExchange(m, "Hi there")
	assert.Equal(t, "Hi there", m.ActiveSession().Title)
}

func TestUpdateActiveSessionMessages_RenameSticks(t *testing.T) {
	m := newTestManager(t, nil)
	id := m.ActiveSessionID()
	require.NoError(t, m.UpdateSessionTitle(id, "Mine"))

	appendExchange(m, "auto title candidate")
	assert.Equal(t, "Mine", m.ActiveSession().Title)
}

func TestUpdateActiveSessionMessages_BumpsUpdatedAt(t *testing.T) {
	m := newTestManager(t, nil)
	before := m.ActiveSession()

	appendExchange(m, "x")
	after := m.ActiveSession()

	assert.Greater(t, after.UpdatedAt, before.UpdatedAt)
	assert.GreaterOrEqual(t, after.UpdatedAt, after.CreatedAt)
}

func TestUpdateActiveSessionMessages_UnchangedIsNoop(t *testing.T) {
	m := newTestManager(t, nil)
	appendExchange(m, "x")
	before := m.ActiveSession()

	var calls atomic.Int32
	m.SetOnChange(func() { calls.Add(1) })

	changed := m.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		return chat.ApplyDelta(msgs, "unknown", "ignored")
	})

	assert.False(t, changed)
	assert.Equal(t, before, m.ActiveSession())
	assert.Zero(t, calls.Load())
}

func TestReadViewsAreCopies(t *testing.T) {
	m := newTestManager(t, nil)
	appendExchange(m, "original")

	msgs := m.ActiveMessages()
	msgs[0].Content = "tampered"

	assert.Equal(t, "original", m.ActiveMessages()[0].Content)
}

func TestOnChange_RunsOutsideLock(t *testing.T) {
	m := newTestManager(t, nil)

	var seen []int
	m.SetOnChange(func() {
		// Re-entering the manager would deadlock if the lock were held
		seen = append(seen, len(m.Sessions()))
	})

	m.CreateSession("a")
	appendExchange(m, "hi")

	assert.Equal(t, []int{2, 2}, seen)
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	m := newTestManager(t, &failingStore{MemoryStore: storage.NewMemoryStore()})

	id := m.CreateSession("still here")
	assert.Equal(t, id, m.ActiveSessionID())
	appendExchange(m, "x")
	assert.Len(t, m.ActiveMessages(), 2)
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, store)

	replyID := appendExchange(m, "first question")
	m.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		return chat.ApplyDelta(msgs, replyID, "answer", chat.Finished())
	})
	second := m.CreateSession("second")
	failedID := appendExchange(m, "will fail")
	m.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		return chat.ApplyDelta(msgs, failedID, "failed", chat.Errored())
	})
	third := m.CreateSession("")
	require.NoError(t, m.UpdateSessionTitle(second, "renamed"))
	require.NoError(t, m.DeleteSession(third))

	reloaded := newTestManager(t, store)

	if diff := cmp.Diff(m.Sessions(), reloaded.Sessions()); diff != "" {
		t.Errorf("sessions differ after reload (-want +got):\n%s", diff)
	}
	assert.Equal(t, m.ActiveSessionID(), reloaded.ActiveSessionID())
}

func TestSerializedFormat(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, store)
	replyID := appendExchange(m, "hi")
	m.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		return chat.ApplyDelta(msgs, replyID, "yo", chat.Finished())
	})

	raw, ok, err := store.Get(KeySessions)
	require.NoError(t, err)
	require.True(t, ok)

	var generic []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &generic))
	require.Len(t, generic, 1)
	for _, key := range []string{"id", "title", "createdAt", "updatedAt", "messages"} {
		assert.Contains(t, generic[0], key)
	}
	msgs := generic[0]["messages"].([]any)
	reply := msgs[1].(map[string]any)
	assert.Equal(t, true, reply["isFinished"])
	assert.NotContains(t, reply, "isError")
}

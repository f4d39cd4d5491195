// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatview

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/generation"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/orchestrator"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// scriptedStream replies with fixed fragments.
type scriptedStream struct {
	fragments []string
	next      int
}

func (s *scriptedStream) Next() (string, error) {
	if s.next >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.next]
	s.next++
	return f, nil
}

func (s *scriptedStream) Close() error { return nil }

type staticModels []ollama.ModelInfo

func (m staticModels) ListModels(context.Context) ([]ollama.ModelInfo, error) {
	return m, nil
}

type testView struct {
	*Model
	orch   *orchestrator.Orchestrator
	copied []string
}

func newTestView(t *testing.T) *testView {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mgr := session.NewManager(storage.NewMemoryStore(), session.DefaultConfig())
	open := func(ctx context.Context, req ollama.ChatRequest) (generation.Stream, error) {
		return &scriptedStream{fragments: []string{"Hel", "lo"}}, nil
	}
	orch := orchestrator.New(mgr, staticModels{{Name: "llama3.2"}, {Name: "qwen2.5"}}, open, orchestrator.Config{})
	t.Cleanup(orch.Close)
	_, err := orch.LoadModels(ctx)
	require.NoError(t, err)

	tv := &testView{orch: orch}
	tv.Model = New(ctx, orch, Options{
		Theme:        "dark",
		SidebarWidth: 24,
		Copy: func(s string) error {
			tv.copied = append(tv.copied, s)
			return nil
		},
		Now: func() time.Time { return time.Now() },
	})
	tv.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return tv
}

func (tv *testView) press(k tea.KeyType) tea.Cmd {
	_, cmd := tv.Update(tea.KeyMsg{Type: k})
	return cmd
}

// sendAndSettle sends text and waits for the reply to finish.
func (tv *testView) sendAndSettle(t *testing.T, text string) {
	t.Helper()
	tv.input.SetValue(text)
	tv.press(tea.KeyEnter)
	tv.orch.Wait()
	tv.Update(changedMsg{})
}

// =============================================================================
// SEND AND REPLY
// =============================================================================

func TestEnter_SendsAndClearsInput(t *testing.T) {
	tv := newTestView(t)
	tv.sendAndSettle(t, "hi")

	msgs := tv.orch.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.True(t, msgs[1].IsFinished)
	assert.Empty(t, tv.input.Value())
	assert.Len(t, tv.messages, 2, "view snapshot refreshed")
}

func TestEnter_BlankInputIgnored(t *testing.T) {
	tv := newTestView(t)
	tv.input.SetValue("   ")
	tv.press(tea.KeyEnter)
	tv.orch.Wait()

	assert.Empty(t, tv.orch.Messages())
}

func TestRegenerate_ReplacesLastReply(t *testing.T) {
	tv := newTestView(t)
	tv.sendAndSettle(t, "hi")
	before := tv.orch.Messages()[1].ID

	tv.press(tea.KeyCtrlR)
	tv.orch.Wait()
	tv.Update(changedMsg{})

	msgs := tv.orch.Messages()
	require.Len(t, msgs, 2)
	assert.NotEqual(t, before, msgs[1].ID)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestRegenerate_NothingToRegenerate(t *testing.T) {
	tv := newTestView(t)
	tv.press(tea.KeyCtrlR)

	assert.Empty(t, tv.orch.Messages())
	assert.Equal(t, "nothing to regenerate", tv.note)
}

func TestCopy_LastFinishedReply(t *testing.T) {
	tv := newTestView(t)
	tv.press(tea.KeyCtrlY)
	assert.Empty(t, tv.copied)

	tv.sendAndSettle(t, "hi")
	tv.press(tea.KeyCtrlY)
	assert.Equal(t, []string{"Hello"}, tv.copied)
}

func TestCopy_Failure(t *testing.T) {
	tv := newTestView(t)
	tv.copy = func(string) error { return errors.New("no display") }
	tv.sendAndSettle(t, "hi")

	tv.press(tea.KeyCtrlY)
	assert.Contains(t, tv.note, "no display")
}

func TestTab_CyclesModel(t *testing.T) {
	tv := newTestView(t)
	assert.Equal(t, "llama3.2", tv.model)

	tv.press(tea.KeyTab)
	assert.Equal(t, "qwen2.5", tv.orch.SelectedModel())
	assert.Equal(t, "qwen2.5", tv.model)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessions_NewSwitchDelete(t *testing.T) {
	tv := newTestView(t)
	first := tv.activeID

	tv.press(tea.KeyCtrlN)
	require.Len(t, tv.sessions, 2)
	second := tv.activeID
	assert.NotEqual(t, first, second)

	tv.press(tea.KeyCtrlUp)
	assert.Equal(t, first, tv.orch.ActiveSessionID())

	tv.press(tea.KeyCtrlUp)
	assert.Equal(t, second, tv.orch.ActiveSessionID(), "switching wraps around")

	tv.press(tea.KeyCtrlD)
	assert.Len(t, tv.orch.Sessions(), 1)
	assert.Equal(t, first, tv.activeID)
}

func TestRename_CommitsTitle(t *testing.T) {
	tv := newTestView(t)

	tv.press(tea.KeyCtrlE)
	require.True(t, tv.renaming)
	assert.Equal(t, session.DefaultTitle, tv.input.Value())

	tv.input.SetValue("Trip plans")
	tv.press(tea.KeyEnter)

	assert.False(t, tv.renaming)
	assert.Equal(t, "Trip plans", tv.orch.Sessions()[0].Title)
	assert.Empty(t, tv.orch.Messages(), "rename must not send")
}

func TestRename_EscCancelsAndKeepsDraft(t *testing.T) {
	tv := newTestView(t)
	tv.input.SetValue("half typed")

	tv.press(tea.KeyCtrlE)
	tv.input.SetValue("Something else")
	tv.press(tea.KeyEsc)

	assert.False(t, tv.renaming)
	assert.Equal(t, "half typed", tv.input.Value())
	assert.Equal(t, session.DefaultTitle, tv.orch.Sessions()[0].Title)
}

func TestEsc_Quits(t *testing.T) {
	tv := newTestView(t)
	cmd := tv.press(tea.KeyEsc)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

// =============================================================================
// CONFIG RELOAD
// =============================================================================

func TestConfigReload_AppliesUISettings(t *testing.T) {
	tv := newTestView(t)

	cfg := config.Default()
	cfg.UI.SidebarWidth = 30
	cfg.UI.Theme = "light"
	tv.Update(configReloadedMsg{Config: cfg})

	assert.Equal(t, 30, tv.sidebarWidth)
	assert.False(t, tv.theme.IsDark)
	assert.Equal(t, "config reloaded", tv.note)
}

func TestConfigReload_Error(t *testing.T) {
	tv := newTestView(t)
	tv.Update(configReloadedMsg{Err: errors.New("bad toml")})

	assert.Equal(t, 24, tv.sidebarWidth)
	assert.Contains(t, tv.note, "bad toml")
}

// =============================================================================
// RENDERING
// =============================================================================

func TestView_ShowsSidebarAndTranscript(t *testing.T) {
	tv := newTestView(t)
	tv.markdown = newMarkdownRenderer("notty", false)
	tv.sendAndSettle(t, "What is Go?")

	view := tv.View()
	assert.Contains(t, view, "Chats (1)")
	assert.Contains(t, view, "What is Go?")
	assert.Contains(t, view, "Hello")
	assert.Contains(t, view, "llama3.2")
}

func TestView_NarrowHidesSidebar(t *testing.T) {
	tv := newTestView(t)
	tv.Update(tea.WindowSizeMsg{Width: 50, Height: 20})

	assert.NotContains(t, tv.View(), "Chats (")
}

func TestSessionRow_FitsWidth(t *testing.T) {
	tv := newTestView(t)
	require.NoError(t, tv.orch.RenameSession(tv.activeID, strings.Repeat("会話", 20)))
	tv.refresh()

	now := time.Now()
	for _, s := range tv.sessions {
		row := tv.renderSessionRow(s, 20, now)
		for _, line := range strings.Split(row, "\n") {
			assert.LessOrEqual(t, lipgloss.Width(line), 20, "line %q", line)
		}
	}
}

// =============================================================================
// NOTIFIER
// =============================================================================

func TestNotifier_Coalesces(t *testing.T) {
	n := newNotifier(1000)
	for i := 0; i < 5; i++ {
		n.Signal()
	}
	assert.Len(t, n.ch, 1)

	msg := n.wait(context.Background())()
	assert.IsType(t, changedMsg{}, msg)
	assert.Len(t, n.ch, 0)
}

func TestNotifier_StopsWithContext(t *testing.T) {
	n := newNotifier(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Nil(t, n.wait(ctx)())
}

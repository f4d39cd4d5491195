// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatview

import (
	"context"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/logging"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/ui/styles"
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the chat surface the view drives. *orchestrator.Orchestrator
// implements it.
type Controller interface {
	SetOnChange(fn func())
	SetTexts(placeholder, failureText string)

	Messages() []chat.Message
	Sessions() []session.Session
	ActiveSessionID() string
	IsGenerating() bool

	LoadModels(ctx context.Context) ([]ollama.ModelInfo, error)
	Models() []ollama.ModelInfo
	SelectedModel() string
	CycleModel() string

	Send(text string) bool
	Regenerate(messageID string) bool
	Stop()

	NewSession(title string) string
	SwitchSession(id string) error
	DeleteSession(id string) error
	RenameSession(id, title string) error
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures the chat view.
type Options struct {
	// Theme is "auto", "dark" or "light"
	Theme string

	// RenderMarkdown renders finished replies with glamour
	RenderMarkdown bool

	// SidebarWidth is the session list width in columns (default 28)
	SidebarWidth int

	// RefreshRate caps refreshes per second (default 30)
	RefreshRate int

	// Logger receives view diagnostics. Nil discards them.
	Logger *log.Logger

	// Copy writes to the clipboard (default: system clipboard)
	Copy func(string) error

	// Now is the clock for relative times (default: time.Now)
	Now func() time.Time
}

// =============================================================================
// CHAT VIEW MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx  context.Context
	chat Controller

	theme  *styles.Theme
	keys   KeyMap
	help   help.Model
	logger *log.Logger

	// Components
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	markdown *markdownRenderer
	notifier *notifier

	// Dimensions
	width        int
	height       int
	sidebarWidth int
	ready        bool

	// Snapshot of controller state taken on every change
	messages   []chat.Message
	sessions   []session.Session
	activeID   string
	generating bool
	model      string
	modelCount int

	// Rename mode reuses the input for the session title
	renaming bool
	draft    string

	// Transient status note
	note    string
	noteSeq int

	copy func(string) error
	now  func() time.Time
}

// New creates the chat view. The caller must route controller change
// callbacks to Model.Notify, which Run does.
func New(ctx context.Context, c Controller, opts Options) *Model {
	theme := styles.NewTheme(opts.Theme)

	input := textarea.New()
	input.Placeholder = "Send a message..."
	input.ShowLineNumbers = false
	input.Prompt = "> "
	input.CharLimit = 0
	input.SetHeight(3)
	input.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	input.Focus()

	spin := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(theme.Spinner),
	)

	sidebarWidth := opts.SidebarWidth
	if sidebarWidth <= 0 {
		sidebarWidth = 28
	}
	cp := opts.Copy
	if cp == nil {
		cp = clipboard.WriteAll
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Model{
		ctx:          ctx,
		chat:         c,
		theme:        theme,
		keys:         DefaultKeyMap(),
		help:         help.New(),
		logger:       logging.Component(opts.Logger, "tui"),
		viewport:     viewport.New(0, 0),
		input:        input,
		spinner:      spin,
		markdown:     newMarkdownRenderer(theme.GlamourStyle(), opts.RenderMarkdown),
		notifier:     newNotifier(opts.RefreshRate),
		sidebarWidth: sidebarWidth,
		copy:         cp,
		now:          now,
	}
	m.refresh()
	return m
}

// Notify schedules a refresh. It never blocks.
func (m *Model) Notify() {
	m.notifier.Signal()
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init starts the refresh loop and loads the model list.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.notifier.wait(m.ctx),
		m.loadModels(),
	)
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.renderConversation()
		return m, nil

	case changedMsg:
		wasGenerating := m.generating
		m.refresh()
		cmds = append(cmds, m.notifier.wait(m.ctx))
		if m.generating && !wasGenerating {
			cmds = append(cmds, m.spinner.Tick)
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if !m.generating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.renderConversation()
		return m, cmd

	case modelsLoadedMsg:
		if msg.Err != nil {
			return m, m.setNote(styles.StatusIndicators.Error + " " + msg.Err.Error())
		}
		if len(msg.Models) == 0 {
			return m, m.setNote(styles.StatusIndicators.Warning + " no models installed, run `ollama pull <model>`")
		}
		m.refresh()
		return m, nil

	case configReloadedMsg:
		return m, m.applyConfig(msg)

	case clearNoteMsg:
		if msg.Seq == m.noteSeq {
			m.note = ""
		}
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKey runs chat actions. It reports false for keys the input owns.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.renaming {
			m.endRename()
			return m.setNote("rename cancelled"), true
		}
		m.chat.Stop()
		return tea.Quit, true

	case key.Matches(msg, m.keys.Send):
		if m.renaming {
			return m.commitRename(), true
		}
		return m.send(), true

	case key.Matches(msg, m.keys.Stop):
		if m.generating {
			m.chat.Stop()
			return m.setNote("stopped"), true
		}
		return nil, true

	case key.Matches(msg, m.keys.Regenerate):
		return m.regenerate(), true

	case key.Matches(msg, m.keys.NewSession):
		m.endRename()
		m.chat.NewSession("")
		m.refresh()
		return nil, true

	case key.Matches(msg, m.keys.Delete):
		m.endRename()
		if err := m.chat.DeleteSession(m.activeID); err != nil {
			return m.setNote(err.Error()), true
		}
		m.refresh()
		return nil, true

	case key.Matches(msg, m.keys.PrevSession):
		return m.switchBy(-1), true

	case key.Matches(msg, m.keys.NextSession):
		return m.switchBy(1), true

	case key.Matches(msg, m.keys.Rename):
		m.beginRename()
		return nil, true

	case key.Matches(msg, m.keys.Copy):
		return m.copyLastReply(), true

	case key.Matches(msg, m.keys.CycleModel):
		if name := m.chat.CycleModel(); name != "" {
			m.model = name
			return m.setNote("model: " + name), true
		}
		return nil, true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return nil, true
	}
	return nil, false
}

// =============================================================================
// ACTIONS
// =============================================================================

func (m *Model) send() tea.Cmd {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if m.generating {
		return m.setNote("a reply is still generating, press C-s to stop it")
	}
	if m.chat.SelectedModel() == "" {
		return tea.Batch(m.setNote("no model selected"), m.loadModels())
	}
	if !m.chat.Send(text) {
		return m.setNote("message not sent")
	}
	m.input.Reset()
	m.refresh()
	m.viewport.GotoBottom()
	return m.spinner.Tick
}

func (m *Model) regenerate() tea.Cmd {
	last, ok := chat.LastAssistant(m.messages)
	if !ok || !last.Regenerable() {
		return m.setNote("nothing to regenerate")
	}
	if !m.chat.Regenerate(last.ID) {
		return m.setNote("cannot regenerate now")
	}
	m.refresh()
	return m.spinner.Tick
}

func (m *Model) switchBy(delta int) tea.Cmd {
	if len(m.sessions) < 2 {
		return nil
	}
	idx := 0
	for i, s := range m.sessions {
		if s.ID == m.activeID {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(m.sessions)) % len(m.sessions)
	m.endRename()
	if err := m.chat.SwitchSession(m.sessions[idx].ID); err != nil {
		return m.setNote(err.Error())
	}
	m.refresh()
	m.viewport.GotoBottom()
	return nil
}

func (m *Model) beginRename() {
	if m.renaming {
		return
	}
	m.renaming = true
	m.draft = m.input.Value()
	m.input.SetValue(m.activeTitle())
	m.input.Placeholder = "New title..."
}

func (m *Model) endRename() {
	if !m.renaming {
		return
	}
	m.renaming = false
	m.input.SetValue(m.draft)
	m.draft = ""
	m.input.Placeholder = "Send a message..."
}

func (m *Model) commitRename() tea.Cmd {
	title := strings.TrimSpace(m.input.Value())
	id := m.activeID
	m.endRename()
	if title == "" {
		return m.setNote("title unchanged")
	}
	if err := m.chat.RenameSession(id, title); err != nil {
		return m.setNote(err.Error())
	}
	m.refresh()
	return nil
}

func (m *Model) copyLastReply() tea.Cmd {
	last, ok := chat.LastCopyable(m.messages)
	if !ok {
		return m.setNote("no reply to copy")
	}
	if err := m.copy(last.Content); err != nil {
		m.logger.Warn("clipboard write failed", "err", err)
		return m.setNote(styles.StatusIndicators.Error + " copy failed: " + err.Error())
	}
	return m.setNote(styles.StatusIndicators.Success + " copied reply")
}

func (m *Model) loadModels() tea.Cmd {
	c, ctx := m.chat, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		models, err := c.LoadModels(ctx)
		return modelsLoadedMsg{Models: models, Err: err}
	}
}

func (m *Model) applyConfig(msg configReloadedMsg) tea.Cmd {
	if msg.Err != nil {
		m.logger.Warn("config reload failed", "err", msg.Err)
		return m.setNote(styles.StatusIndicators.Warning + " config not reloaded: " + msg.Err.Error())
	}
	cfg := msg.Config
	m.chat.SetTexts(cfg.Chat.Placeholder, cfg.Chat.FailureText)
	m.theme = styles.NewTheme(cfg.UI.Theme)
	m.spinner.Style = m.theme.Spinner
	m.markdown = newMarkdownRenderer(m.theme.GlamourStyle(), cfg.UI.RenderMarkdown)
	m.sidebarWidth = cfg.UI.SidebarWidth
	m.layout()
	m.renderConversation()
	m.logger.Info("config reloaded")
	return m.setNote("config reloaded")
}

// setNote shows a status note that clears itself after a few seconds.
func (m *Model) setNote(note string) tea.Cmd {
	m.noteSeq++
	m.note = note
	seq := m.noteSeq
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return clearNoteMsg{Seq: seq}
	})
}

// =============================================================================
// STATE
// =============================================================================

// refresh takes a snapshot of the controller and re-renders the transcript.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()

	m.messages = m.chat.Messages()
	m.sessions = m.chat.Sessions()
	m.activeID = m.chat.ActiveSessionID()
	m.generating = m.chat.IsGenerating()
	m.model = m.chat.SelectedModel()
	m.modelCount = len(m.chat.Models())

	m.renderConversation()
	if atBottom || m.generating {
		m.viewport.GotoBottom()
	}
}

func (m *Model) activeTitle() string {
	for _, s := range m.sessions {
		if s.ID == m.activeID {
			return s.Title
		}
	}
	return ""
}

// layout sizes the components from the window size.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	mainWidth := m.mainWidth()
	inputHeight := 3
	// header, input border, status bar, help
	chrome := 1 + 1 + 1 + 1

	m.input.SetWidth(mainWidth)
	m.input.SetHeight(inputHeight)
	m.help.Width = mainWidth

	m.viewport.Width = mainWidth
	m.viewport.Height = max(1, m.height-inputHeight-chrome)
}

func (m *Model) mainWidth() int {
	if m.showSidebar() {
		// sidebar border and padding
		return max(10, m.width-m.sidebarWidth-2)
	}
	return max(10, m.width)
}

// showSidebar hides the session list on narrow terminals.
func (m *Model) showSidebar() bool {
	return m.width >= m.sidebarWidth+40
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatview

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/ui/styles"
	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// MARKDOWN
// =============================================================================

// markdownRenderer renders finished replies with glamour, caching the
// output per message so scrolling and spinner ticks stay cheap.
type markdownRenderer struct {
	style   string
	enabled bool

	width    int
	renderer *glamour.TermRenderer
	cache    map[string]renderedEntry
}

type renderedEntry struct {
	content string
	out     string
}

func newMarkdownRenderer(style string, enabled bool) *markdownRenderer {
	return &markdownRenderer{
		style:   style,
		enabled: enabled,
		cache:   make(map[string]renderedEntry),
	}
}

// Render returns content as terminal markdown, or ok=false when rendering
// is disabled or fails.
func (r *markdownRenderer) Render(id, content string, width int) (string, bool) {
	if !r.enabled || width <= 0 {
		return "", false
	}
	if width != r.width || r.renderer == nil {
		tr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			r.enabled = false
			return "", false
		}
		r.renderer = tr
		r.width = width
		r.cache = make(map[string]renderedEntry)
	}

	if e, ok := r.cache[id]; ok && e.content == content {
		return e.out, true
	}
	out, err := r.renderer.Render(content)
	if err != nil {
		return "", false
	}
	out = strings.Trim(out, "\n")
	r.cache[id] = renderedEntry{content: content, out: out}
	return out, true
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderConversation rebuilds the viewport content from the snapshot.
func (m *Model) renderConversation() {
	if !m.ready {
		return
	}
	width := m.viewport.Width
	if len(m.messages) == 0 {
		m.viewport.SetContent(m.renderWelcome(width))
		return
	}

	blocks := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		blocks = append(blocks, m.renderMessage(msg, width))
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
}

func (m *Model) renderMessage(msg chat.Message, width int) string {
	t := m.theme
	stamp := t.Timestamp.Render(time.UnixMilli(msg.Timestamp).Format("15:04"))
	// border and padding of the text styles
	textWidth := max(4, width-2)

	if msg.Role == chat.RoleUser {
		header := t.UserLabel.Render("You") + " " + stamp
		return header + "\n" + t.UserText.Width(textWidth).Render(msg.Content)
	}

	header := t.AssistantLabel.Render("Assistant") + " " + stamp
	switch {
	case msg.IsError:
		header += " " + lipgloss.NewStyle().Foreground(styles.Rose).Render(styles.StatusIndicators.Error)
		return header + "\n" + t.ErrorText.Width(textWidth).Render(msg.Content)

	case !msg.IsFinished:
		header += " " + m.spinner.View()
		return header + "\n" + t.AssistantText.Width(textWidth).Render(t.Placeholder.Render(msg.Content))

	default:
		if out, ok := m.markdown.Render(msg.ID, msg.Content, textWidth); ok {
			return header + "\n" + t.AssistantText.Render(out)
		}
		return header + "\n" + t.AssistantText.Width(textWidth).Render(msg.Content)
	}
}

func (m *Model) renderWelcome(width int) string {
	t := m.theme
	lines := []string{
		t.HeaderTitle.Render("ollachat"),
		"",
		t.ShortcutDesc.Render("Type a message and press Enter."),
	}
	if m.model == "" {
		lines = append(lines, t.ShortcutDesc.Render("Waiting for models from Ollama..."))
	} else {
		lines = append(lines, t.ShortcutDesc.Render("Talking to ")+t.HeaderModel.Render(m.model))
	}
	return lipgloss.NewStyle().Width(width).Padding(1, 2).Render(strings.Join(lines, "\n"))
}

// =============================================================================
// SIDEBAR
// =============================================================================

// renderSidebar lists sessions, newest last, with the active one selected.
func (m *Model) renderSidebar(height int) string {
	t := m.theme
	inner := m.sidebarWidth - 1

	var b strings.Builder
	b.WriteString(t.SidebarTitle.Render(fmt.Sprintf("Chats (%d)", len(m.sessions))))
	b.WriteString("\n")

	now := m.now()
	for _, s := range m.sessions {
		b.WriteString(m.renderSessionRow(s, inner, now))
		b.WriteString("\n")
	}

	return t.Sidebar.Height(max(1, height)).Width(m.sidebarWidth).Render(strings.TrimRight(b.String(), "\n"))
}

func (m *Model) renderSessionRow(s session.Session, width int, now time.Time) string {
	t := m.theme
	title := util.TruncateWidth(util.SingleLine(s.Title), width-2)
	meta := fmt.Sprintf("%d msgs, %s", len(s.Messages), humanize.RelTime(s.Updated(), now, "ago", "from now"))
	meta = util.TruncateWidth(meta, width-2)

	if s.ID == m.activeID {
		return t.SessionItemSelected.Render(util.PadWidth("> "+title, width)) + "\n" +
			t.SessionMeta.Render("  "+meta)
	}
	return t.SessionItem.Render("  "+title) + "\n" + t.SessionMeta.Render("  "+meta)
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the screen.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
		m.help.ShortHelpView(m.keys.ShortHelp()),
	)
	if !m.showSidebar() {
		return main
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(m.height), main)
}

func (m *Model) renderHeader() string {
	t := m.theme
	title := util.SingleLine(m.activeTitle())
	width := m.mainWidth()
	// padding of the header style
	title = util.TruncateWidth(title, max(1, width-2-runewidth.StringWidth(m.model)-3))
	left := t.HeaderTitle.Render(title)
	right := t.HeaderModel.Render(m.model)
	gap := max(1, width-2-lipgloss.Width(left)-lipgloss.Width(right))
	return t.Header.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m *Model) renderInput() string {
	if m.renaming {
		return m.theme.InputRenaming.Render(m.input.View())
	}
	return m.theme.InputContainer.Render(m.input.View())
}

func (m *Model) renderStatusBar() string {
	t := m.theme

	var state string
	if m.generating {
		state = t.StateBusy.Render(m.spinner.View() + " generating")
	} else {
		state = t.StateIdle.Render(styles.StatusIndicators.Active + " idle")
	}

	parts := []string{state}
	switch {
	case m.model != "":
		parts = append(parts, fmt.Sprintf("%s (%d installed)", m.model, m.modelCount))
	default:
		parts = append(parts, "no model")
	}
	if m.renaming {
		parts = append(parts, "renaming: Enter to save, Esc to cancel")
	}
	if m.note != "" {
		parts = append(parts, t.StatusNote.Render(m.note))
	}

	width := m.mainWidth()
	return t.StatusBar.Width(width).MaxWidth(width).MaxHeight(1).Render(strings.Join(parts, " | "))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// SESSION EXPORT
// =============================================================================

// Format is an export encoding.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// ParseFormat accepts a format name or common file extension.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want markdown, json or yaml)", name)
}

// Export encodes s in the given format.
func Export(s Session, format Format) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return []byte(ExportMarkdown(s)), nil
	case FormatJSON:
		return json.MarshalIndent(s, "", "  ")
	case FormatYAML:
		return yaml.Marshal(s)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// ExportMarkdown renders the session with a heading per message.
// Errored replies are marked; unfinished ones are flagged as interrupted.
func ExportMarkdown(s Session) string {
	var sb strings.Builder
	sb.WriteString("# " + s.Title + "\n\n")
	sb.WriteString("Created: " + s.Created().Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range s.Messages {
		role := "**User**"
		if msg.Role == chat.RoleAssistant {
			role = "**Assistant**"
		}
		stamp := time.UnixMilli(msg.Timestamp).Format("15:04")
		switch {
		case msg.IsError:
			sb.WriteString(role + " (" + stamp + ", failed):\n\n")
		case msg.Role == chat.RoleAssistant && !msg.IsFinished:
			sb.WriteString(role + " (" + stamp + ", incomplete):\n\n")
		default:
			sb.WriteString(role + " (" + stamp + "):\n\n")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList formats sessions as a table. The active session is
// marked with '*'. Numbers are 1-based and accepted by the CLI wherever a
// session id is.
func FormatSessionList(sessions []Session, activeID string) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	sb.WriteString("  " + util.PadWidth("#", 4) + " " + util.PadWidth("Title", 34) + " " +
		util.PadWidth("Updated", 17) + " Messages\n")
	sb.WriteString(strings.Repeat("-", 68) + "\n")

	for i, s := range sessions {
		mark := " "
		if s.ID == activeID {
			mark = "*"
		}
		sb.WriteString(mark + " " +
			util.PadWidth(strconv.Itoa(i+1), 4) + " " +
			util.PadWidth(util.TruncateWidth(util.SingleLine(s.Title), 34), 34) + " " +
			util.PadWidth(s.Updated().Format("2006-01-02 15:04"), 17) + " " +
			strconv.Itoa(len(s.Messages)) + "\n")
	}
	return sb.String()
}

// Resolve finds a session by 1-based list number, full id or unique id
// prefix.
func Resolve(sessions []Session, ref string) (Session, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(sessions) {
			return sessions[n-1], nil
		}
		return Session{}, fmt.Errorf("no session #%d: %w", n, ErrSessionNotFound)
	}

	var match *Session
	for i := range sessions {
		if sessions[i].ID == ref {
			return sessions[i], nil
		}
		if ref != "" && strings.HasPrefix(sessions[i].ID, ref) {
			if match != nil {
				return Session{}, fmt.Errorf("ambiguous session id %q", ref)
			}
			match = &sessions[i]
		}
	}
	if match == nil {
		return Session{}, fmt.Errorf("%q: %w", ref, ErrSessionNotFound)
	}
	return *match, nil
}

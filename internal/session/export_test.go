// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ollachat/internal/chat"
)

func sampleSession() Session {
	return Session{
		ID:        "0f9a6c1e-1111-2222-3333-444455556666",
		Title:     "Go generics",
		CreatedAt: 1700000000000,
		UpdatedAt: 1700000060000,
		Messages: []chat.Message{
			{ID: "m1", Role: chat.RoleUser, Content: "Explain generics", Timestamp: 1700000000000},
			{ID: "m2", Role: chat.RoleAssistant, Content: "Type parameters...", Timestamp: 1700000001000, IsFinished: true},
			{ID: "m3", Role: chat.RoleUser, Content: "More?", Timestamp: 1700000002000},
			{ID: "m4", Role: chat.RoleAssistant, Content: "Reply failed", Timestamp: 1700000003000, IsError: true},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":         FormatMarkdown,
		"md":       FormatMarkdown,
		"Markdown": FormatMarkdown,
		".json":    FormatJSON,
		"yml":      FormatYAML,
		"yaml":     FormatYAML,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestExportMarkdown(t *testing.T) {
	out := ExportMarkdown(sampleSession())

	assert.True(t, strings.HasPrefix(out, "# Go generics\n"))
	assert.Contains(t, out, "**User**")
	assert.Contains(t, out, "Type parameters...")
	assert.Contains(t, out, ", failed):")
	assert.Equal(t, 4, strings.Count(out, "\n---\n")-1)
}

func TestExport_JSONRoundTrip(t *testing.T) {
	s := sampleSession()
	data, err := Export(s, FormatJSON)
	require.NoError(t, err)

	var back Session
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("json export differs (-want +got):\n%s", diff)
	}
}

func TestExport_YAMLRoundTrip(t *testing.T) {
	s := sampleSession()
	data, err := Export(s, FormatYAML)
	require.NoError(t, err)
	assert.Contains(t, string(data), "isError: true")

	var back Session
	require.NoError(t, yaml.Unmarshal(data, &back))
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("yaml export differs (-want +got):\n%s", diff)
	}
}

func TestFormatSessionList(t *testing.T) {
	assert.Equal(t, "No sessions found.", FormatSessionList(nil, ""))

	a := sampleSession()
	b := Session{ID: "b", Title: "A very long session title that will not fit in the column", Messages: []chat.Message{}}
	out := FormatSessionList([]Session{a, b}, "b")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[2], "  1"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "* 2"), lines[3])
	assert.Contains(t, lines[3], "...")
}

func TestResolve(t *testing.T) {
	sessions := []Session{
		{ID: "abc123"},
		{ID: "abd456"},
		{ID: "xyz789"},
	}

	s, err := Resolve(sessions, "2")
	require.NoError(t, err)
	assert.Equal(t, "abd456", s.ID)

	s, err = Resolve(sessions, "xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz789", s.ID)

	s, err = Resolve(sessions, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", s.ID)

	_, err = Resolve(sessions, "ab")
	assert.Error(t, err)

	_, err = Resolve(sessions, "9")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = Resolve(sessions, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

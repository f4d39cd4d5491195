// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/ollachat/internal/logging"
)

// =============================================================================
// CHAT STREAM
// =============================================================================

// ChatStream yields the text fragments of one streaming /api/chat response.
// It is not safe for concurrent use and cannot be restarted.
type ChatStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	logger *log.Logger

	model   string
	lines   int
	skipped int
	done    bool
}

func newChatStream(ctx context.Context, body io.ReadCloser, logger *log.Logger) *ChatStream {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ChatStream{
		ctx:    ctx,
		body:   body,
		reader: bufio.NewReader(body),
		logger: logger,
	}
}

// Next returns the next non-empty fragment. It returns io.EOF after the
// done line or when the body ends, and ctx.Err() once the context is
// cancelled; no fragment is returned after either.
func (s *ChatStream) Next() (string, error) {
	for {
		if err := s.ctx.Err(); err != nil {
			s.finish()
			return "", err
		}
		if s.done {
			return "", io.EOF
		}

		line, readErr := s.reader.ReadBytes('\n')
		if readErr != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				s.finish()
				return "", ctxErr
			}
			if !errors.Is(readErr, io.EOF) {
				s.finish()
				return "", &ClientError{Type: ErrTypeConnection, Message: "stream interrupted", Cause: readErr}
			}
			// A final line without a newline is still a line
			s.finish()
		}

		if fragment, ok := s.decode(line); ok {
			return fragment, nil
		}
		if readErr != nil {
			return "", io.EOF
		}
	}
}

// decode parses one NDJSON line. Malformed lines are logged and skipped.
func (s *ChatStream) decode(line []byte) (string, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false
	}
	s.lines++

	var chunk ChatResponse
	if err := json.Unmarshal(line, &chunk); err != nil {
		s.skipped++
		s.logger.Warn("skipping malformed stream line", "err", err, "line", truncateForLog(line))
		return "", false
	}
	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if chunk.Done {
		s.finish()
	}
	if chunk.Message.Content == "" {
		return "", false
	}
	return chunk.Message.Content, true
}

func (s *ChatStream) finish() {
	if !s.done {
		s.done = true
		s.body.Close()
	}
}

// Close releases the connection. Safe to call more than once.
func (s *ChatStream) Close() error {
	s.finish()
	return nil
}

// Model returns the model name reported by the stream so far.
func (s *ChatStream) Model() string {
	return s.model
}

// Skipped returns how many malformed lines were dropped.
func (s *ChatStream) Skipped() int {
	return s.skipped
}

func truncateForLog(line []byte) string {
	const max = 120
	if len(line) > max {
		return string(line[:max]) + "..."
	}
	return string(line)
}

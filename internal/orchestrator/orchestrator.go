// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator turns user intent into generations.
//
// It owns the Idle/Generating state machine: Send and Regenerate start a
// generation, Stop ends it, and at most one runs per process. Message state
// lives in the session manager; the orchestrator only holds the handle of
// the generation in flight.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/generation"
	"github.com/jeranaias/ollachat/internal/logging"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/session"
)

// =============================================================================
// TYPES
// =============================================================================

// State is the process-wide generation state.
type State int

const (
	StateIdle State = iota
	StateGenerating
)

func (s State) String() string {
	if s == StateGenerating {
		return "generating"
	}
	return "idle"
}

// ModelLister lists installed models; *ollama.Client implements it.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// Config holds orchestrator settings.
type Config struct {
	// Placeholder is the content of a reply before its first fragment.
	Placeholder string

	// FailureText replaces a reply whose transport failed.
	FailureText string

	// PreferredModel is selected by LoadModels when installed.
	PreferredModel string

	Logger *log.Logger
}

// handle is the generation in flight.
type handle struct {
	cancel   context.CancelFunc
	targetID string
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator coordinates sends, regenerations and stops.
type Orchestrator struct {
	sessions *session.Manager
	models   ModelLister
	open     generation.Opener
	logger   *log.Logger
	now      func() time.Time

	// opMu serializes user actions; mu guards the fields below it and is
	// never held while calling into the session manager.
	opMu sync.Mutex

	mu             sync.Mutex
	placeholder    string
	failureText    string
	preferredModel string
	modelList      []ollama.ModelInfo
	selected       string
	current        *handle
	onChange       func()

	wg sync.WaitGroup
}

// New creates an orchestrator. Model lists come from models and replies
// are streamed through open:
//
//	orch := orchestrator.New(mgr, client, generation.ClientOpener(client), cfg)
func New(sessions *session.Manager, models ModelLister, open generation.Opener, cfg Config) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		models:   models,
		open:     open,
		logger:   logging.Component(cfg.Logger, "orchestrator"),
		now:      time.Now,
	}
	o.SetTexts(cfg.Placeholder, cfg.FailureText)
	o.preferredModel = strings.TrimSpace(cfg.PreferredModel)
	return o
}

// SetOnChange registers fn for every message or state change. fn may run
// on a generation goroutine and must not block.
func (o *Orchestrator) SetOnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
	o.sessions.SetOnChange(fn)
}

// SetTexts updates the placeholder and failure texts for later generations.
// Empty values restore the defaults.
func (o *Orchestrator) SetTexts(placeholder, failureText string) {
	if placeholder == "" {
		placeholder = chat.DefaultPlaceholder
	}
	if failureText == "" {
		failureText = generation.DefaultFailureText
	}
	o.mu.Lock()
	o.placeholder = placeholder
	o.failureText = failureText
	o.mu.Unlock()
}

// =============================================================================
// READ VIEWS
// =============================================================================

// State returns the current generation state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		return StateGenerating
	}
	return StateIdle
}

// IsGenerating reports whether a generation is in flight.
func (o *Orchestrator) IsGenerating() bool {
	return o.State() == StateGenerating
}

// Messages returns a copy of the active session's messages.
func (o *Orchestrator) Messages() []chat.Message {
	return o.sessions.ActiveMessages()
}

// Sessions returns copies of all sessions.
func (o *Orchestrator) Sessions() []session.Session {
	return o.sessions.Sessions()
}

// ActiveSessionID returns the active session id.
func (o *Orchestrator) ActiveSessionID() string {
	return o.sessions.ActiveSessionID()
}

// =============================================================================
// ACTIONS
// =============================================================================

// Send appends text as a user message and starts a reply. It returns false,
// changing nothing, when text is blank, no model is selected or a generation
// is already running.
func (o *Orchestrator) Send(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		o.logger.Debug("send rejected", "reason", "empty input")
		return false
	}

	o.opMu.Lock()
	defer o.opMu.Unlock()

	model, placeholder, ok := o.reserve("send")
	if !ok {
		return false
	}

	user := chat.NewUserMessage(text, o.now())
	replyID := chat.NewID()
	var history []chat.Message
	o.sessions.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		history = make([]chat.Message, 0, len(msgs)+1)
		history = append(history, msgs...)
		history = append(history, user)
		return chat.AppendUserThenPlaceholderReply(msgs, user, replyID,
			chat.WithPlaceholder(placeholder), chat.WithTimestamp(o.now()))
	})

	o.start(model, replyID, history)
	return true
}

// Regenerate replaces the assistant message messageID, and everything after
// it, with a fresh reply to the messages before it. It returns false when
// the message is not an assistant reply in the active session, is the
// first message, or a generation is running.
func (o *Orchestrator) Regenerate(messageID string) bool {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	model, placeholder, ok := o.reserve("regenerate")
	if !ok {
		return false
	}

	replyID := chat.NewID()
	var history []chat.Message
	changed := o.sessions.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		idx := chat.Index(msgs, messageID)
		if idx <= 0 || msgs[idx].Role != chat.RoleAssistant {
			return msgs
		}
		history = msgs[:idx:idx]
		return chat.AppendPlaceholderReply(history, replyID,
			chat.WithPlaceholder(placeholder), chat.WithTimestamp(o.now()))
	})
	if !changed {
		o.release()
		o.logger.Debug("regenerate rejected", "reason", "not a regenerable message", "id", messageID)
		return false
	}

	o.start(model, replyID, history)
	return true
}

// Stop cancels the generation in flight, if any, and seals the last message
// of the active session as finished when it is an unfinished reply. Partial
// content is kept. Stop is idempotent.
func (o *Orchestrator) Stop() {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.stopLocked()
}

func (o *Orchestrator) stopLocked() {
	o.mu.Lock()
	h := o.current
	o.current = nil
	o.mu.Unlock()

	if h == nil {
		return
	}
	h.cancel()

	o.sessions.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		last, ok := chat.Last(msgs)
		if !ok || last.Role != chat.RoleAssistant || last.Sealed() {
			return msgs
		}
		return chat.ApplyDelta(msgs, last.ID, last.Content, chat.Finished())
	})
	o.logger.Debug("generation stopped", "target", h.targetID)
	o.notify()
}

// Wait blocks until no generation goroutine is running.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops any generation and waits for it to unwind.
func (o *Orchestrator) Close() {
	o.Stop()
	o.Wait()
}

// =============================================================================
// SESSION ACTIONS
// =============================================================================

// A generation writes into the active session, so every session action that
// moves the active pointer stops it first.

// NewSession creates and activates a session.
func (o *Orchestrator) NewSession(title string) string {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.stopLocked()
	return o.sessions.CreateSession(title)
}

// SwitchSession activates the session with id.
func (o *Orchestrator) SwitchSession(id string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if id == o.sessions.ActiveSessionID() {
		return nil
	}
	if _, ok := o.sessions.Session(id); !ok {
		return o.sessions.SwitchSession(id)
	}
	o.stopLocked()
	return o.sessions.SwitchSession(id)
}

// DeleteSession removes the session with id.
func (o *Orchestrator) DeleteSession(id string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if id == o.sessions.ActiveSessionID() {
		o.stopLocked()
	}
	return o.sessions.DeleteSession(id)
}

// RenameSession sets a session title.
func (o *Orchestrator) RenameSession(id, title string) error {
	return o.sessions.UpdateSessionTitle(id, title)
}

// =============================================================================
// GENERATION LIFECYCLE
// =============================================================================

// reserve checks the preconditions of a new generation and marks the
// orchestrator busy. Caller holds opMu.
func (o *Orchestrator) reserve(action string) (model, placeholder string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.logger.Debug(action+" rejected", "reason", "already generating")
		return "", "", false
	}
	if o.selected == "" {
		o.logger.Debug(action+" rejected", "reason", "no model selected")
		return "", "", false
	}
	o.current = &handle{cancel: func() {}}
	return o.selected, o.placeholder, true
}

// release drops a reservation that did not start. Caller holds opMu.
func (o *Orchestrator) release() {
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
}

// start launches the reconciler for targetID. Caller holds opMu and a
// reservation.
func (o *Orchestrator) start(model, targetID string, history []chat.Message) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, targetID: targetID}

	o.mu.Lock()
	o.current = h
	failureText := o.failureText
	o.mu.Unlock()

	req := ollama.ChatRequest{Model: model, Messages: toWire(history)}
	o.logger.Debug("generation started", "target", targetID, "model", model, "messages", len(req.Messages))
	o.notify()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		out := generation.Run(ctx, o.open, req, targetID, o.applyToActive, generation.Options{
			FailureText: failureText,
			Logger:      o.logger,
		})

		o.mu.Lock()
		cleared := o.current == h
		if cleared {
			o.current = nil
		}
		o.mu.Unlock()

		o.logger.Debug("generation ended", "target", targetID, "outcome", out.Kind, "fragments", out.Fragments)
		if cleared {
			o.notify()
		}
	}()
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// applyToActive hands a reconciler update to the active session.
func (o *Orchestrator) applyToActive(update func([]chat.Message) []chat.Message) {
	o.sessions.UpdateActiveSessionMessages(update)
}

// toWire converts messages to the request shape.
func toWire(msgs []chat.Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ollama.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

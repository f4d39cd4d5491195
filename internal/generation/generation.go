// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generation reconciles one streaming reply into the message list.
//
// Run reads fragments from a Stream and writes the growing reply into the
// target message through a Mutator. It never touches session state itself;
// the caller decides where the mutation lands.
package generation

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/logging"
	"github.com/jeranaias/ollachat/internal/ollama"
)

// DefaultFailureText replaces the reply when the transport fails.
const DefaultFailureText = "Reply failed, please try again later"

// =============================================================================
// COLLABORATORS
// =============================================================================

// Stream yields reply fragments until io.EOF or an error.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Opener starts one streaming request bound to ctx.
type Opener func(ctx context.Context, req ollama.ChatRequest) (Stream, error)

// ClientOpener adapts an Ollama client to an Opener.
func ClientOpener(client *ollama.Client) Opener {
	return func(ctx context.Context, req ollama.ChatRequest) (Stream, error) {
		s, err := client.OpenChatStream(ctx, req)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Mutator applies an updater to the message list that holds the target.
// Updaters run under the owner's lock.
type Mutator func(update func([]chat.Message) []chat.Message)

// =============================================================================
// OUTCOME
// =============================================================================

// OutcomeKind is how a generation ended.
type OutcomeKind int

const (
	OutcomeFinished OutcomeKind = iota
	OutcomeErrored
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFinished:
		return "finished"
	case OutcomeErrored:
		return "errored"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome summarizes a finished Run.
type Outcome struct {
	Kind OutcomeKind

	// Content is the text accumulated from fragments. On error it is what
	// arrived before the failure, even though the message shows FailureText.
	Content string

	// Fragments counts the fragments applied.
	Fragments int

	// Err is the transport failure for OutcomeErrored.
	Err error
}

// Options tunes a Run.
type Options struct {
	// FailureText is written into the message on transport failure.
	FailureText string

	Logger *log.Logger
}

// =============================================================================
// RUN
// =============================================================================

// Run streams req into the message targetID.
//
// Every fragment triggers one mutation carrying the full accumulated text.
// Exhaustion seals the message as finished. A transport failure seals it as
// errored with FailureText, dropping the partial reply. Cancellation of ctx
// performs no mutation; sealing an interrupted reply belongs to the caller.
//
// Updaters check ctx inside the Mutator, so a cancellation that wins the
// owner's lock first leaves the list untouched.
func Run(ctx context.Context, open Opener, req ollama.ChatRequest, targetID string, mutate Mutator, opts Options) Outcome {
	logger := logging.Component(opts.Logger, "generation")
	failureText := opts.FailureText
	if failureText == "" {
		failureText = DefaultFailureText
	}

	apply := func(content string, seal ...chat.DeltaOption) {
		mutate(func(msgs []chat.Message) []chat.Message {
			if ctx.Err() != nil {
				return msgs
			}
			return chat.ApplyDelta(msgs, targetID, content, seal...)
		})
	}

	var current strings.Builder
	out := Outcome{}

	fail := func(err error) Outcome {
		out.Kind = OutcomeErrored
		out.Content = current.String()
		out.Err = err
		logger.Warn("generation failed", "target", targetID, "model", req.Model, "fragments", out.Fragments, "err", err)
		apply(failureText, chat.Errored())
		return out
	}

	cancelled := func() Outcome {
		out.Kind = OutcomeCancelled
		out.Content = current.String()
		logger.Debug("generation cancelled", "target", targetID, "fragments", out.Fragments)
		return out
	}

	stream, err := open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return fail(err)
	}
	defer stream.Close()

	for {
		fragment, err := stream.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return cancelled()
			case errors.Is(err, io.EOF):
				out.Kind = OutcomeFinished
				out.Content = current.String()
				apply(out.Content, chat.Finished())
				logger.Debug("generation finished", "target", targetID, "fragments", out.Fragments, "chars", len(out.Content))
				return out
			default:
				return fail(err)
			}
		}

		current.WriteString(fragment)
		out.Fragments++
		apply(current.String())
	}
}

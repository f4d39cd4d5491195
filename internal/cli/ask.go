// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/ollama"
)

// =============================================================================
// ASK COMMAND
// =============================================================================

type askOptions struct {
	jsonOut bool
	raw     bool
}

func (app *App) addAskCommand(rootCmd *cobra.Command) {
	var opts askOptions

	askCmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask a single question and print the answer",
		Long: `Send one question to the model and print the complete answer.

The exchange is not saved as a session. With no arguments, or "-", the
prompt is read from stdin.`,
		Example: `  ollachat ask "Explain goroutines in one paragraph"
  git diff | ollachat ask -
  ollachat ask --json "Name three sorting algorithms"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && cmd.InOrStdin() == os.Stdin && !stdinIsPiped() {
				return errors.New("usage: ollachat ask <prompt>")
			}
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return app.runAsk(cmd.Context(), cmd.OutOrStdout(), prompt, opts)
		},
	}
	askCmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	askCmd.Flags().BoolVar(&opts.raw, "raw", false, "Print the answer without markdown rendering")

	rootCmd.AddCommand(askCmd)
}

// readPrompt joins args, or reads stdin when there are none or the only
// argument is "-".
func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		if prompt := joinArgs(args); prompt != "" {
			return prompt, nil
		}
		return "", errors.New("prompt is empty")
	}

	data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}

func (app *App) runAsk(ctx context.Context, out io.Writer, prompt string, opts askOptions) error {
	client := app.newClient()
	baseURL := app.Config.Ollama.URL

	return OutputJSON(out, opts.jsonOut, "ask", func() (interface{}, error) {
		model, err := resolveModel(ctx, client, app.Config.Ollama.Model)
		if err != nil {
			return nil, describeOllamaError(err, baseURL)
		}

		start := time.Now()
		resp, err := client.Chat(ctx, ollama.ChatRequest{
			Model:    model,
			Messages: []ollama.Message{ollama.NewUserMessage(prompt)},
		})
		if err != nil {
			return nil, describeOllamaError(err, baseURL)
		}
		elapsed := time.Since(start)
		app.Logger.Debug("ask answered", "model", model, "duration", elapsed, "eval_count", resp.EvalCount)

		if !opts.jsonOut {
			displayResponse(out, resp.Message.Content, !opts.raw && IsStdoutTTY())
		}
		return AskData{
			Response:   resp.Message.Content,
			Model:      model,
			EvalCount:  resp.EvalCount,
			DurationMs: elapsed.Milliseconds(),
		}, nil
	})
}

// resolveModel returns preferred when it is installed, or the first
// installed model otherwise.
func resolveModel(ctx context.Context, client *ollama.Client, preferred string) (string, error) {
	models, err := client.ListModels(ctx)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "", errors.New("no models installed (try `ollama pull llama3.2`)")
	}
	for _, m := range models {
		if m.Name == preferred {
			return preferred, nil
		}
	}
	return models[0].Name, nil
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails.
func renderMarkdown(content string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n") + "\n"
}

// displayResponse prints an answer, rendered as markdown when asked to.
func displayResponse(out io.Writer, content string, markdown bool) {
	if markdown {
		width := GetTerminalWidth()
		if width > 100 {
			width = 100
		}
		io.WriteString(out, renderMarkdown(content, width-4))
		return
	}
	io.WriteString(out, content)
	if !strings.HasSuffix(content, "\n") {
		io.WriteString(out, "\n")
	}
}

// stdinIsPiped reports whether stdin carries data rather than a terminal.
func stdinIsPiped() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice == 0
}

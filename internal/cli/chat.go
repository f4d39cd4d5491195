// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/orchestrator"
	"github.com/jeranaias/ollachat/internal/session"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads REPL input.
type LineReader interface {
	// Prompt shows prompt and returns the next line. io.EOF ends the session;
	// liner.ErrPromptAborted means Ctrl+C at an empty prompt.
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// linerReader provides input history and line editing on the terminal.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader() (LineReader, error) {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &linerReader{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r, nil
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	return r.line.Prompt(prompt)
}

func (r *linerReader) AppendHistory(line string) {
	r.line.AppendHistory(line)
}

// Close saves history (0600) and restores the terminal.
func (r *linerReader) Close() error {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	return r.line.Close()
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func (app *App) addChatCommand(rootCmd *cobra.Command) {
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a line-based chat session",
		Long: `Start a line-based chat in the active session.

Type a message and press Enter to send it. Ctrl+C stops a reply that is
being generated; Ctrl+D or /quit leaves. Type /help for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runChat(cmd)
		},
	}
	rootCmd.AddCommand(chatCmd)
}

func (app *App) runChat(cmd *cobra.Command) error {
	st, err := app.openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	in, err := app.NewLineReader()
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	r := newREPL(st.orch, in, cmd.OutOrStdout(), app.Copy, app.Config.Chat.Placeholder)
	defer st.orch.SetOnChange(nil)

	return r.run(cmd.Context(), app.Config.Ollama.URL)
}

// =============================================================================
// REPL
// =============================================================================

// repl is the line-based chat loop over an orchestrator.
type repl struct {
	orch        *orchestrator.Orchestrator
	in          LineReader
	out         io.Writer
	copy        func(string) error
	placeholder string

	// changed is signalled, without blocking, on every orchestrator change.
	changed chan struct{}
}

func newREPL(orch *orchestrator.Orchestrator, in LineReader, out io.Writer, copyFn func(string) error, placeholder string) *repl {
	r := &repl{
		orch:        orch,
		in:          in,
		out:         out,
		copy:        copyFn,
		placeholder: placeholder,
		changed:     make(chan struct{}, 1),
	}
	orch.SetOnChange(func() {
		select {
		case r.changed <- struct{}{}:
		default:
		}
	})
	return r
}

func (r *repl) run(ctx context.Context, baseURL string) error {
	if _, err := r.orch.LoadModels(ctx); err != nil {
		r.warn("Could not load models: %v", describeOllamaError(err, baseURL))
	}
	r.printWelcome()

	for {
		input, err := r.in.Prompt("ollachat> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.in.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintln(r.out, ErrorStyle.Render("[Error]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.send(ctx, input)
	}
}

// send starts a reply to text and streams it to the output.
func (r *repl) send(ctx context.Context, text string) {
	if !r.orch.Send(text) {
		r.explainRejection()
		return
	}
	r.followLastReply(ctx)
}

func (r *repl) explainRejection() {
	switch {
	case r.orch.IsGenerating():
		r.warn("A reply is still being generated.")
	case r.orch.SelectedModel() == "":
		r.warn("No model selected. Is Ollama running? Try /models.")
	default:
		r.warn("Nothing to send.")
	}
}

// followLastReply prints the reply at the end of the active session as it
// grows, until its generation ends. Ctrl+C stops the generation.
func (r *repl) followLastReply(ctx context.Context) {
	last, ok := chat.Last(r.orch.Messages())
	if !ok || last.Role != chat.RoleAssistant {
		return
	}
	replyID := last.ID

	interrupt, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	fmt.Fprintln(r.out, AssistantStyle.Render("assistant:"))
	printed := ""
	stopped := false
	for {
		// Read the state before the messages: once idle, the messages are final
		generating := r.orch.IsGenerating()
		msgs := r.orch.Messages()
		idx := chat.Index(msgs, replyID)
		if idx < 0 {
			break
		}
		reply := msgs[idx]
		if !reply.IsError {
			printed = r.writeDelta(reply, printed)
		}

		if !generating {
			if printed != "" {
				fmt.Fprintln(r.out)
			}
			if reply.IsError {
				fmt.Fprintln(r.out, ErrorStyle.Render("[X] "+reply.Content))
			}
			break
		}

		select {
		case <-r.changed:
		case <-interrupt.Done():
			r.orch.Stop()
			stopped = true
		}
	}
	if stopped {
		r.warn("[Stopped]")
	}
}

// writeDelta prints the part of reply not yet printed. A reply still
// holding the placeholder, including one stopped before its first
// fragment, prints nothing.
func (r *repl) writeDelta(reply chat.Message, printed string) string {
	if printed == "" && reply.Content == r.placeholder {
		return printed
	}
	if !strings.HasPrefix(reply.Content, printed) {
		return printed
	}
	io.WriteString(r.out, reply.Content[len(printed):])
	return reply.Content
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand runs one slash command. quit ends the REPL.
func (r *repl) handleCommand(ctx context.Context, input string) (quit bool, err error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h", "/?":
		r.printHelp()

	case "/new":
		r.orch.NewSession(arg)
		r.info("Started a new conversation.")

	case "/sessions", "/ls":
		fmt.Fprint(r.out, session.FormatSessionList(r.orch.Sessions(), r.orch.ActiveSessionID()))

	case "/switch":
		if arg == "" {
			return false, errors.New("usage: /switch <number|id>")
		}
		s, err := session.Resolve(r.orch.Sessions(), arg)
		if err != nil {
			return false, err
		}
		if err := r.orch.SwitchSession(s.ID); err != nil {
			return false, err
		}
		r.info("Switched to %q (%d messages).", s.Title, len(s.Messages))

	case "/rename":
		if arg == "" {
			return false, errors.New("usage: /rename <title>")
		}
		if err := r.orch.RenameSession(r.orch.ActiveSessionID(), arg); err != nil {
			return false, err
		}
		r.info("Renamed to %q.", arg)

	case "/delete":
		id := r.orch.ActiveSessionID()
		if arg != "" {
			s, err := session.Resolve(r.orch.Sessions(), arg)
			if err != nil {
				return false, err
			}
			id = s.ID
		}
		if err := r.orch.DeleteSession(id); err != nil {
			return false, err
		}
		r.info("Conversation deleted.")

	case "/history":
		r.printHistory()

	case "/regen", "/regenerate":
		last, ok := chat.LastAssistant(r.orch.Messages())
		if !ok || !r.orch.Regenerate(last.ID) {
			return false, errors.New("nothing to regenerate")
		}
		r.followLastReply(ctx)

	case "/stop":
		if !r.orch.IsGenerating() {
			r.info("Nothing to stop.")
			return false, nil
		}
		r.orch.Stop()

	case "/models":
		return false, r.listModels(ctx)

	case "/model":
		if arg == "" {
			r.info("Current model: %s", valueOr(r.orch.SelectedModel(), "(none)"))
			return false, nil
		}
		if err := r.orch.SelectModel(arg); err != nil {
			return false, err
		}
		r.info("Using %s.", arg)

	case "/copy":
		msg, ok := chat.LastCopyable(r.orch.Messages())
		if !ok {
			return false, errors.New("no finished reply to copy")
		}
		if err := r.copy(msg.Content); err != nil {
			return false, fmt.Errorf("copy to clipboard: %w", err)
		}
		r.info("Copied the last reply.")

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) listModels(ctx context.Context) error {
	models, err := r.orch.LoadModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		r.warn("No models installed. Pull one with `ollama pull llama3.2`.")
		return nil
	}
	selected := r.orch.SelectedModel()
	for _, m := range models {
		mark := " "
		if m.Name == selected {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %-32s %s\n", mark, m.Name, DimStyle.Render(m.FormatSize()))
	}
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (r *repl) printWelcome() {
	s, _ := currentSession(r.orch.Sessions(), r.orch.ActiveSessionID())
	fmt.Fprintln(r.out, TitleStyle.Render("ollachat")+" "+
		DimStyle.Render(fmt.Sprintf("model %s, conversation %q", valueOr(r.orch.SelectedModel(), "(none)"), s.Title)))
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, Ctrl+D to quit."))
}

func (r *repl) printHistory() {
	msgs := r.orch.Messages()
	if len(msgs) == 0 {
		r.info("No messages yet.")
		return
	}
	for _, m := range msgs {
		switch {
		case m.Role == chat.RoleUser:
			fmt.Fprintln(r.out, PromptStyle.Render("you:"), m.Content)
		case m.IsError:
			fmt.Fprintln(r.out, AssistantStyle.Render("assistant:"), ErrorStyle.Render("[X] "+m.Content))
		default:
			fmt.Fprintln(r.out, AssistantStyle.Render("assistant:"), m.Content)
		}
	}
}

var replCommands = []struct{ usage, desc string }{
	{"/new [title]", "Start a new conversation"},
	{"/sessions", "List conversations"},
	{"/switch <n|id>", "Switch conversation"},
	{"/rename <title>", "Rename this conversation"},
	{"/delete [n|id]", "Delete a conversation (default: this one)"},
	{"/history", "Show this conversation"},
	{"/regen", "Regenerate the last reply"},
	{"/stop", "Stop the reply being generated"},
	{"/models", "List installed models"},
	{"/model <name>", "Switch model"},
	{"/copy", "Copy the last reply to the clipboard"},
	{"/help", "Show this help"},
	{"/quit", "Leave"},
}

func (r *repl) printHelp() {
	for _, c := range replCommands {
		fmt.Fprintf(r.out, "  %s %s\n", CommandStyle.Render(fmt.Sprintf("%-18s", c.usage)), c.desc)
	}
}

func (r *repl) info(format string, args ...interface{}) {
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *repl) warn(format string, args ...interface{}) {
	fmt.Fprintln(r.out, WarningStyle.Render(fmt.Sprintf(format, args...)))
}

func currentSession(sessions []session.Session, id string) (session.Session, bool) {
	for _, s := range sessions {
		if s.ID == id {
			return s, true
		}
	}
	return session.Session{}, false
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

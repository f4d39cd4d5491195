// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/generation"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// isolate points HOME at a temp dir and clears ollachat environment
// overrides. It returns the temp HOME.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"OLLAMA_HOST",
		"OLLACHAT_OLLAMA_URL",
		"OLLACHAT_MODEL",
		"OLLACHAT_STORAGE",
		"OLLACHAT_STORAGE_PATH",
		"OLLACHAT_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	return home
}

// fakeOllama serves /api/tags with models and answers /api/chat with reply,
// streamed in two halves when the request asks for streaming.
type fakeOllama struct {
	models   []string
	reply    string
	failChat bool

	mu       sync.Mutex
	lastChat ollama.ChatRequest
}

func (f *fakeOllama) last() ollama.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChat
}

func (f *fakeOllama) start(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var resp ollama.ListModelsResponse
			resp.Models = []ollama.ModelInfo{}
			for _, name := range f.models {
				resp.Models = append(resp.Models, ollama.ModelInfo{Name: name, Size: 2 << 30})
			}
			json.NewEncoder(w).Encode(resp)

		case "/api/chat":
			var req ollama.ChatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.lastChat = req
			f.mu.Unlock()
			if f.failChat {
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, `{"error":"out of memory"}`)
				return
			}
			if !req.Stream {
				json.NewEncoder(w).Encode(ollama.ChatResponse{
					Model:   req.Model,
					Message: ollama.NewAssistantMessage(f.reply),
					Done:    true,
				})
				return
			}
			half := len(f.reply) / 2
			for _, part := range []string{f.reply[:half], f.reply[half:]} {
				line, _ := json.Marshal(ollama.ChatResponse{Model: req.Model, Message: ollama.NewAssistantMessage(part)})
				w.Write(append(line, '\n'))
				if fl, ok := w.(http.Flusher); ok {
					fl.Flush()
				}
			}
			io.WriteString(w, `{"done":true}`+"\n")

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server.URL
}

// deadURL returns the address of a server that is no longer listening.
func deadURL() string {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

// scriptedReader feeds REPL lines and then reports EOF.
type scriptedReader struct {
	lines   []string
	history []string
	closed  bool
}

func (r *scriptedReader) Prompt(string) (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) AppendHistory(line string) { r.history = append(r.history, line) }

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func newTestApp(lines ...string) (*App, *scriptedReader) {
	reader := &scriptedReader{lines: lines}
	app := NewApp()
	app.NewLineReader = func() (LineReader, error) { return reader, nil }
	app.IsInteractive = func() bool { return false }
	app.Copy = func(string) error { return errors.New("no clipboard in tests") }
	return app, reader
}

// execute runs the command line and returns stdout.
func execute(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer

	rootCmd := app.CreateRootCommand()
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	app.closeLogger()
	return out.String(), err
}

// seedSessions writes two sessions to the default file store under home.
func seedSessions(t *testing.T, home string) {
	t.Helper()
	store, err := storage.NewFileStore(filepath.Join(home, ".ollachat", "data"))
	require.NoError(t, err)
	defer store.Close()

	mgr := session.NewManager(store, session.DefaultConfig())
	mgr.CreateSession("Go questions")
	now := time.Now()
	mgr.UpdateActiveSessionMessages(func(msgs []chat.Message) []chat.Message {
		user := chat.NewUserMessage("What is a goroutine?", now)
		msgs = chat.AppendUserThenPlaceholderReply(msgs, user, "reply-1", chat.WithTimestamp(now))
		return chat.ApplyDelta(msgs, "reply-1", "A lightweight thread.", chat.Finished())
	})
}

// =============================================================================
// GLOBAL FLAG TESTS
// =============================================================================

func TestVersionCommand(t *testing.T) {
	isolate(t)
	app, _ := newTestApp()

	out, err := execute(t, app, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ollachat "+Version)

	out, err = execute(t, NewApp(), "version", "--json")
	require.NoError(t, err)
	var resp JSONResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "version", resp.Command)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ollama]\nurl = \"http://file:1\"\nmodel = \"from-file\"\n"), 0o600))

	out, err := execute(t, NewApp(), "--config", path, "config", "get", "ollama.model")
	require.NoError(t, err)
	assert.Equal(t, "from-file\n", out)

	out, err = execute(t, NewApp(), "--config", path, "--model", "from-flag", "config", "get", "ollama.model")
	require.NoError(t, err)
	assert.Equal(t, "from-flag\n", out)

	out, err = execute(t, NewApp(), "--config", path, "--ollama-url", "http://flag:2/", "config", "get", "ollama.url")
	require.NoError(t, err)
	assert.Equal(t, "http://flag:2\n", out, "trailing slash trimmed")

	out, err = execute(t, NewApp(), "--ephemeral", "config", "get", "storage.backend")
	require.NoError(t, err)
	assert.Equal(t, "memory\n", out)
}

func TestInvalidFlagValue(t *testing.T) {
	isolate(t)

	_, err := execute(t, NewApp(), "--storage", "floppy", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid settings")
}

// =============================================================================
// MODELS / ASK / STATUS TESTS
// =============================================================================

func TestModelsCommand(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2", "qwen2.5:7b"}}
	url := fake.start(t)

	out, err := execute(t, NewApp(), "--ollama-url", url, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "Models (2)")
	assert.Contains(t, out, "llama3.2")
	assert.Contains(t, out, "qwen2.5:7b")

	out, err = execute(t, NewApp(), "--ollama-url", url, "--model", "qwen2.5:7b", "models", "--json")
	require.NoError(t, err)
	var resp struct {
		Success bool        `json:"success"`
		Data    []ModelData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.False(t, resp.Data[0].Selected)
	assert.True(t, resp.Data[1].Selected)
}

func TestModelsCommand_NotRunning(t *testing.T) {
	isolate(t)

	_, err := execute(t, NewApp(), "--ollama-url", deadURL(), "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot reach Ollama")
}

func TestAskCommand(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2"}, reply: "Hi there"}
	url := fake.start(t)

	out, err := execute(t, NewApp(), "--ollama-url", url, "ask", "--raw", "say", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hi there\n", out)
	assert.False(t, fake.last().Stream)
	assert.Equal(t, "llama3.2", fake.last().Model)
	require.Len(t, fake.last().Messages, 1)
	assert.Equal(t, "say hi", fake.last().Messages[0].Content)
}

func TestAskCommand_JSON(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2"}, reply: "42"}
	url := fake.start(t)

	out, err := execute(t, NewApp(), "--ollama-url", url, "ask", "--json", "meaning?")
	require.NoError(t, err)

	var resp struct {
		Success bool    `json:"success"`
		Data    AskData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "42", resp.Data.Response)
	assert.Equal(t, "llama3.2", resp.Data.Model)
}

func TestReadPrompt(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		args    []string
		want    string
		wantErr bool
	}{
		{"args joined", "", []string{"hello", "world"}, "hello world", false},
		{"dash reads stdin", "  piped text \n", []string{"-"}, "piped text", false},
		{"no args reads stdin", "from stdin", nil, "from stdin", false},
		{"blank stdin", "   ", nil, "", true},
		{"blank args", "", []string{" "}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPrompt(strings.NewReader(tt.stdin), tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusCommand(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2"}}
	url := fake.start(t)

	out, err := execute(t, NewApp(), "--ollama-url", url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "llama3.2")
	assert.Contains(t, out, "Sessions")
}

func TestStatusCommand_NotRunning(t *testing.T) {
	isolate(t)

	out, err := execute(t, NewApp(), "--ollama-url", deadURL(), "status", "--json")
	require.ErrorIs(t, err, errOllamaDown)

	var resp struct {
		Data StatusData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Data.OllamaRunning)
	assert.NotEmpty(t, resp.Data.OllamaError)
	assert.Equal(t, 1, resp.Data.Sessions)
}

func TestModelStatus(t *testing.T) {
	models := []ollama.ModelInfo{{Name: "a"}, {Name: "b"}}

	tests := []struct {
		preferred string
		models    []ollama.ModelInfo
		wantModel string
	}{
		{"b", models, "b"},
		{"", models, "a"},
		{"missing", models, "a"},
		{"x", nil, "x"},
	}

	for _, tt := range tests {
		if got, _ := modelStatus(tt.models, tt.preferred); got != tt.wantModel {
			t.Errorf("modelStatus(%q) = %q, want %q", tt.preferred, got, tt.wantModel)
		}
	}
}

// =============================================================================
// SESSIONS COMMAND TESTS
// =============================================================================

func TestSessionsCommands(t *testing.T) {
	home := isolate(t)
	seedSessions(t, home)

	out, err := execute(t, NewApp(), "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "New conversation")
	assert.Contains(t, out, "Go questions")

	out, err = execute(t, NewApp(), "sessions", "list", "--json")
	require.NoError(t, err)
	var listResp struct {
		Data []SessionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listResp))
	require.Len(t, listResp.Data, 2)
	assert.True(t, listResp.Data[1].Active)
	assert.Equal(t, 2, listResp.Data[1].Messages)

	// Export the active session as JSON
	out, err = execute(t, NewApp(), "sessions", "export", "--format", "json")
	require.NoError(t, err)
	var exported session.Session
	require.NoError(t, json.Unmarshal([]byte(out), &exported))
	assert.Equal(t, "Go questions", exported.Title)
	require.Len(t, exported.Messages, 2)
	assert.Equal(t, "A lightweight thread.", exported.Messages[1].Content)

	// Format follows the output extension
	path := filepath.Join(home, "out", "chat.yaml")
	_, err = execute(t, NewApp(), "sessions", "export", "2", "--output", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "title: Go questions")

	_, err = execute(t, NewApp(), "sessions", "rename", "1", "Scratch", "pad")
	require.NoError(t, err)
	out, err = execute(t, NewApp(), "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Scratch pad")

	_, err = execute(t, NewApp(), "sessions", "delete", "1")
	require.NoError(t, err)
	out, err = execute(t, NewApp(), "sessions", "list", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &listResp))
	require.Len(t, listResp.Data, 1)
	assert.Equal(t, "Go questions", listResp.Data[0].Title)
}

func TestSessionsCommands_UnknownSession(t *testing.T) {
	home := isolate(t)
	seedSessions(t, home)

	_, err := execute(t, NewApp(), "sessions", "delete", "9")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

// =============================================================================
// CONFIG COMMAND TESTS
// =============================================================================

func TestConfigSetGet(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.toml")

	out, err := execute(t, NewApp(), "--config", path, "config", "set", "ollama.model", "llama3.2")
	require.NoError(t, err)
	assert.Contains(t, out, "Set ollama.model = llama3.2")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `model = "llama3.2"`)

	out, err = execute(t, NewApp(), "--config", path, "config", "get", "ollama.model")
	require.NoError(t, err)
	assert.Equal(t, "llama3.2\n", out)

	_, err = execute(t, NewApp(), "--config", path, "config", "set", "ui.sidebar_width", "30")
	require.NoError(t, err)
	out, err = execute(t, NewApp(), "--config", path, "config", "get", "ui.sidebar_width")
	require.NoError(t, err)
	assert.Equal(t, "30\n", out)
}

func TestConfigSet_RejectsInvalidValue(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.toml")

	_, err := execute(t, NewApp(), "--config", path, "config", "set", "ui.theme", "purple")
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "invalid value must not create the file")
}

func TestConfigInit(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.toml")

	_, err := execute(t, NewApp(), "--config", path, "config", "init")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[ollama]")

	_, err = execute(t, NewApp(), "--config", path, "config", "init")
	require.Error(t, err)

	_, err = execute(t, NewApp(), "--config", path, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigPath_WorksWithBrokenConfig(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ui]\ntheme = \"purple\"\n"), 0o600))

	_, err := execute(t, NewApp(), "--config", path, "version")
	require.Error(t, err)

	out, err := execute(t, NewApp(), "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	_, err = execute(t, NewApp(), "--config", path, "config", "set", "ui.theme", "dark")
	require.NoError(t, err)
	_, err = execute(t, NewApp(), "--config", path, "version")
	require.NoError(t, err)
}

// =============================================================================
// REPL TESTS
// =============================================================================

func TestChatREPL_SendStreamsReply(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2"}, reply: "Hello there"}
	url := fake.start(t)

	app, reader := newTestApp("hi", "/sessions", "/quit")
	out, err := execute(t, app, "--ollama-url", url, "--ephemeral", "chat")
	require.NoError(t, err)

	assert.Contains(t, out, "Hello there")
	assert.NotContains(t, out, chat.DefaultPlaceholder)
	assert.Contains(t, out, "hi", "session titled from the first message")
	assert.True(t, reader.closed)
	assert.Equal(t, []string{"hi", "/sessions", "/quit"}, reader.history)
	assert.True(t, fake.last().Stream)
}

func TestChatREPL_SessionCommands(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2"}, reply: "ok"}
	url := fake.start(t)

	var copied string
	app, _ := newTestApp(
		"first question",
		"/copy",
		"/rename Renamed chat",
		"/new",
		"/switch 1",
		"/history",
		"/delete 2",
		"/sessions",
	)
	app.Copy = func(s string) error {
		copied = s
		return nil
	}

	out, err := execute(t, app, "--ollama-url", url, "--ephemeral", "chat")
	require.NoError(t, err)

	assert.Equal(t, "ok", copied)
	assert.Contains(t, out, `Renamed to "Renamed chat"`)
	assert.Contains(t, out, "Started a new conversation.")
	assert.Contains(t, out, `Switched to "Renamed chat" (2 messages)`)
	assert.Contains(t, out, "first question")
	assert.Contains(t, out, "Conversation deleted.")
	assert.Equal(t, 1, strings.Count(out, "* 1"), "one session remains and is active")
}

func TestChatREPL_Regenerate(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2"}, reply: "answer"}
	url := fake.start(t)

	app, _ := newTestApp("/regen", "question", "/regen")
	out, err := execute(t, app, "--ollama-url", url, "--ephemeral", "chat")
	require.NoError(t, err)

	assert.Contains(t, out, "nothing to regenerate")
	assert.Equal(t, 2, strings.Count(out, "answer"))
	require.Len(t, fake.last().Messages, 1, "regenerate resends history before the reply")
	assert.Equal(t, "question", fake.last().Messages[0].Content)
}

func TestChatREPL_FailedReply(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2"}, failChat: true}
	url := fake.start(t)

	app, _ := newTestApp("hi")
	out, err := execute(t, app, "--ollama-url", url, "--ephemeral", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "[X] "+generation.DefaultFailureText)
}

func TestChatREPL_NoModels(t *testing.T) {
	isolate(t)

	app, _ := newTestApp("hi", "/model", "/bogus")
	out, err := execute(t, app, "--ollama-url", deadURL(), "--ephemeral", "chat")
	require.NoError(t, err)

	assert.Contains(t, out, "Could not load models")
	assert.Contains(t, out, "No model selected")
	assert.Contains(t, out, "Current model: (none)")
	assert.Contains(t, out, "unknown command /bogus")
}

func TestRoot_NonInteractiveRunsLineChat(t *testing.T) {
	isolate(t)
	fake := &fakeOllama{models: []string{"llama3.2"}}
	url := fake.start(t)

	app, reader := newTestApp()
	out, err := execute(t, app, "--ollama-url", url, "--ephemeral")
	require.NoError(t, err)
	assert.Contains(t, out, "Type /help for commands")
	assert.True(t, reader.closed)
}

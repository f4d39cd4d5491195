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

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/generation"
	"github.com/jeranaias/ollachat/internal/logging"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/orchestrator"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
	"github.com/jeranaias/ollachat/internal/ui/chatview"
)

// Version information (set at build time via -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// annotationRawConfig marks commands that work on the config file itself
// and must run even when the current settings do not validate.
const annotationRawConfig = "raw-config"

// =============================================================================
// APPLICATION
// =============================================================================

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	ollamaURL  string
	model      string
	storage    string
	logLevel   string
	ephemeral  bool
}

// App represents the ollachat CLI application.
type App struct {
	flags globalFlags

	// Config is the resolved configuration, set before any command runs.
	Config *config.Config

	// Logger is the diagnostics logger, set before any command runs.
	Logger    *log.Logger
	logCloser io.Closer

	// NewLineReader opens the REPL input (default: liner on the terminal).
	NewLineReader func() (LineReader, error)

	// IsInteractive reports whether the full-screen UI can run.
	IsInteractive func() bool

	// Copy writes to the system clipboard.
	Copy func(string) error
}

// NewApp creates a new ollachat CLI application.
func NewApp() *App {
	return &App{
		NewLineReader: newLinerReader,
		IsInteractive: func() bool { return IsTTY() && IsStdoutTTY() },
		Copy:          clipboard.WriteAll,
	}
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	app := NewApp()
	rootCmd := app.CreateRootCommand()
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	app.closeLogger()
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// CreateRootCommand creates and configures the root command.
func (app *App) CreateRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ollachat",
		Short: "Chat with local Ollama models from the terminal",
		Long: `ollachat is a terminal chat client for a local Ollama server.

Run without a command it opens the full-screen chat when attached to a
terminal and a line-based chat otherwise. Conversations are kept as
sessions under ~/.ollachat and survive restarts.`,
		Example: `  ollachat                         Open the chat
  ollachat --model qwen2.5:7b      Prefer a specific model
  ollachat ask "What is a monad?"  One-shot question
  ollachat sessions list           Show saved conversations`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
		RunE:              app.runRoot,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&app.flags.configPath, "config", "", "Config file (default ~/.ollachat/config.toml)")
	pf.StringVar(&app.flags.ollamaURL, "ollama-url", "", "Ollama server URL")
	pf.StringVarP(&app.flags.model, "model", "m", "", "Preferred model")
	pf.StringVar(&app.flags.storage, "storage", "", "Session storage backend (file, sqlite, memory)")
	pf.StringVar(&app.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&app.flags.ephemeral, "ephemeral", false, "Keep sessions in memory only")

	app.addChatCommand(rootCmd)
	app.addAskCommand(rootCmd)
	app.addModelsCommand(rootCmd)
	app.addStatusCommand(rootCmd)
	app.addSessionsCommands(rootCmd)
	app.addConfigCommands(rootCmd)
	app.addVersionCommand(rootCmd)

	return rootCmd
}

// =============================================================================
// SETUP
// =============================================================================

// setup resolves configuration (flags > env > file > defaults) and opens
// the logger.
func (app *App) setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := app.loadConfig()
	if err != nil {
		if cmd.Annotations[annotationRawConfig] == "" {
			return err
		}
		cfg = config.Default()
	}

	app.applyFlags(cmd, cfg)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	app.Config = cfg

	return app.openLogger(cmd.ErrOrStderr(), "")
}

func (app *App) loadConfig() (*config.Config, error) {
	if app.flags.configPath != "" {
		return config.LoadFromPath(app.flags.configPath)
	}
	return config.Load()
}

// applyFlags copies explicitly set flags over cfg.
func (app *App) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("ollama-url") {
		cfg.Ollama.URL = app.flags.ollamaURL
	}
	if flags.Changed("model") {
		cfg.Ollama.Model = app.flags.model
	}
	if flags.Changed("storage") {
		cfg.Storage.Backend = app.flags.storage
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = app.flags.logLevel
	}
	if app.flags.ephemeral {
		cfg.Storage.Backend = string(storage.BackendMemory)
	}
}

// configPath returns the file the running config came from, or where it
// would be created.
func (app *App) configPath() string {
	if app.flags.configPath != "" {
		return app.flags.configPath
	}
	if path, err := config.ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return path
		}
		if jsonPath, err := config.ConfigPathJSON(); err == nil {
			if _, statErr := os.Stat(jsonPath); statErr == nil {
				return jsonPath
			}
		}
		return path
	}
	return ""
}

// openLogger replaces the current logger. An empty file logs to w.
func (app *App) openLogger(w io.Writer, file string) error {
	logger, closer, err := logging.New(logging.Options{
		Level:      app.Config.Log.Level,
		File:       file,
		Timestamps: file != "",
		Output:     w,
	})
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	app.closeLogger()
	app.Logger = logger
	app.logCloser = closer
	return nil
}

func (app *App) closeLogger() {
	if app.logCloser != nil {
		app.logCloser.Close()
		app.logCloser = nil
	}
}

// =============================================================================
// CHAT STACK
// =============================================================================

// stack is the wired chat core: storage, sessions, transport and the
// orchestrator over them.
type stack struct {
	store    storage.Store
	sessions *session.Manager
	client   *ollama.Client
	orch     *orchestrator.Orchestrator
}

func (app *App) newClient() *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: app.Config.Ollama.URL,
		Timeout: app.Config.OllamaTimeout(),
		Logger:  app.Logger,
	})
}

// openSessions opens the configured store and loads the sessions in it.
func (app *App) openSessions() (storage.Store, *session.Manager, error) {
	cfg := app.Config
	store, err := storage.Open(storage.Options{
		Backend: storage.Backend(cfg.Storage.Backend),
		Path:    cfg.Storage.Path,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	mgr := session.NewManager(store, session.Config{
		DefaultTitle: cfg.Chat.NewSessionTitle,
		TitleRunes:   cfg.Chat.TitleLength,
		Logger:       app.Logger,
	})
	return store, mgr, nil
}

func (app *App) openStack() (*stack, error) {
	store, mgr, err := app.openSessions()
	if err != nil {
		return nil, err
	}

	client := app.newClient()
	orch := orchestrator.New(mgr, client, generation.ClientOpener(client), orchestrator.Config{
		Placeholder:    app.Config.Chat.Placeholder,
		FailureText:    app.Config.Chat.FailureText,
		PreferredModel: app.Config.Ollama.Model,
		Logger:         app.Logger,
	})

	return &stack{store: store, sessions: mgr, client: client, orch: orch}, nil
}

// Close stops any generation and releases the store.
func (s *stack) Close() error {
	s.orch.Close()
	return s.store.Close()
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

func (app *App) runRoot(cmd *cobra.Command, _ []string) error {
	if !app.IsInteractive() {
		return app.runChat(cmd)
	}
	return app.runTUI(cmd)
}

var _ chatview.Controller = (*orchestrator.Orchestrator)(nil)

// runTUI shows the full-screen chat. Logs move to the log file while it
// owns the terminal.
func (app *App) runTUI(cmd *cobra.Command) error {
	if err := app.openLogger(nil, app.Config.LogFile()); err != nil {
		return err
	}

	st, err := app.openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	app.Logger.Info("starting chat", "version", Version, "ollama", app.Config.Ollama.URL,
		"storage", app.Config.Storage.Backend)

	return chatview.Run(cmd.Context(), st.orch, chatview.Options{
		Theme:          app.Config.UI.Theme,
		RenderMarkdown: app.Config.UI.RenderMarkdown,
		SidebarWidth:   app.Config.UI.SidebarWidth,
		Logger:         app.Logger,
		Copy:           app.Copy,
	}, app.configPath())
}

// =============================================================================
// VERSION COMMAND
// =============================================================================

// VersionData is the JSON shape of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

func (app *App) addVersionCommand(rootCmd *cobra.Command) {
	var jsonOut bool

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data := VersionData{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate}
			if jsonOut {
				return NewJSONResponse("version", data).Write(cmd.OutOrStdout())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ollachat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
	versionCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	rootCmd.AddCommand(versionCmd)
}

// =============================================================================
// HELPERS
// =============================================================================

// describeOllamaError turns transport errors into advice for the user.
func describeOllamaError(err error, baseURL string) error {
	switch {
	case ollama.IsNotRunning(err):
		return fmt.Errorf("cannot reach Ollama at %s (is `ollama serve` running?)", baseURL)
	case ollama.IsTimeout(err):
		return fmt.Errorf("request to Ollama at %s timed out", baseURL)
	case ollama.IsModelNotFound(err):
		return errors.New("model not found (see `ollachat models`)")
	}
	return err
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

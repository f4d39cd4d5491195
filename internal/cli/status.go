// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/ollachat/internal/ollama"
)

// statusProbeTimeout bounds each status probe.
const statusProbeTimeout = 5 * time.Second

// errOllamaDown is returned by status after printing, so scripts see a
// failing exit code.
var errOllamaDown = errors.New("ollama server is not reachable")

// =============================================================================
// STATUS COMMAND
// =============================================================================

func (app *App) addStatusCommand(rootCmd *cobra.Command) {
	var jsonOut bool

	statusCmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Show server, model and session status",
		Long: `Probe the Ollama server and the session store and print a summary.

Exits non-zero when the server cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			var data StatusData
			err := OutputJSON(out, jsonOut, "status", func() (interface{}, error) {
				var err error
				data, err = app.collectStatus(cmd.Context())
				if err != nil {
					return nil, err
				}
				if !jsonOut {
					printStatus(out, data)
				}
				return data, nil
			})
			if err != nil {
				return err
			}
			if !data.OllamaRunning {
				return errOllamaDown
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	rootCmd.AddCommand(statusCmd)
}

// collectStatus runs the server probe, the model listing and the session
// count concurrently. Probe failures are reported in the data; only a
// storage failure is an error.
func (app *App) collectStatus(ctx context.Context) (StatusData, error) {
	data := StatusData{
		OllamaURL: app.Config.Ollama.URL,
		Storage:   app.Config.Storage.Backend,
	}
	client := app.newClient()

	var (
		pingErr  error
		models   []ollama.ModelInfo
		modelErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		probeCtx, cancel := context.WithTimeout(gctx, statusProbeTimeout)
		defer cancel()
		pingErr = client.CheckRunning(probeCtx)
		return nil
	})
	g.Go(func() error {
		probeCtx, cancel := context.WithTimeout(gctx, statusProbeTimeout)
		defer cancel()
		models, modelErr = client.ListModels(probeCtx)
		return nil
	})
	g.Go(func() error {
		store, mgr, err := app.openSessions()
		if err != nil {
			return err
		}
		defer store.Close()
		data.Sessions = len(mgr.Sessions())
		if s, ok := mgr.Session(mgr.ActiveSessionID()); ok {
			data.ActiveSession = s.Title
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return data, err
	}

	data.OllamaRunning = pingErr == nil
	if pingErr != nil {
		data.OllamaError = describeOllamaError(pingErr, data.OllamaURL).Error()
	}
	if modelErr == nil {
		data.Models = len(models)
		data.Model, data.ModelStatus = modelStatus(models, app.Config.Ollama.Model)
	} else {
		data.Model = app.Config.Ollama.Model
		data.ModelStatus = "unknown"
	}

	app.Logger.Debug("status collected", "running", data.OllamaRunning, "models", data.Models, "sessions", data.Sessions)
	return data, nil
}

// modelStatus names the model a chat would use and whether it is installed.
func modelStatus(models []ollama.ModelInfo, preferred string) (string, string) {
	for _, m := range models {
		if m.Name == preferred {
			return preferred, "installed"
		}
	}
	switch {
	case len(models) == 0:
		return preferred, "no models installed"
	case preferred != "":
		return models[0].Name, preferred + " not installed, using first model"
	default:
		return models[0].Name, "first installed model"
	}
}

func printStatus(out io.Writer, data StatusData) {
	fmt.Fprintln(out, TitleStyle.Render("ollachat status"))
	fmt.Fprintln(out, RenderSeparator(40))

	ollamaLine := RenderStatus(data.OllamaRunning) + " " + data.OllamaURL
	if data.OllamaError != "" {
		ollamaLine += " " + DimStyle.Render("("+data.OllamaError+")")
	}
	fmt.Fprintln(out, RenderField("Ollama", "")+ollamaLine)
	fmt.Fprintln(out, RenderField("Models", strconv.Itoa(data.Models)))
	fmt.Fprintln(out, RenderField("Model", valueOr(data.Model, "(none)"))+" "+DimStyle.Render(data.ModelStatus))
	fmt.Fprintln(out, RenderField("Storage", data.Storage))
	fmt.Fprintln(out, RenderField("Sessions", strconv.Itoa(data.Sessions)))
	fmt.Fprintln(out, RenderField("Active", valueOr(data.ActiveSession, "(none)")))
}

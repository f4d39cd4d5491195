// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// SESSIONS COMMANDS
// =============================================================================

func (app *App) addSessionsCommands(rootCmd *cobra.Command) {
	sessionsCmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage saved conversations",
		Long: `List, rename, delete and export saved conversations.

Sessions are referred to by their number in "sessions list", their id, or
a unique id prefix.`,
	}

	app.addSessionsListCommand(sessionsCmd)
	app.addSessionsRenameCommand(sessionsCmd)
	app.addSessionsDeleteCommand(sessionsCmd)
	app.addSessionsExportCommand(sessionsCmd)

	rootCmd.AddCommand(sessionsCmd)
}

// withSessions runs fn against the persisted sessions and closes the store.
func (app *App) withSessions(fn func(mgr *session.Manager) error) error {
	store, mgr, err := app.openSessions()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(mgr)
}

// resolveRef finds a session by reference; an empty ref is the active one.
func resolveRef(mgr *session.Manager, ref string) (session.Session, error) {
	if ref == "" {
		return mgr.ActiveSession(), nil
	}
	return session.Resolve(mgr.Sessions(), ref)
}

func (app *App) addSessionsListCommand(parent *cobra.Command) {
	var jsonOut bool

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return app.withSessions(func(mgr *session.Manager) error {
				return OutputJSON(out, jsonOut, "sessions list", func() (interface{}, error) {
					sessions := mgr.Sessions()
					activeID := mgr.ActiveSessionID()
					if !jsonOut {
						fmt.Fprint(out, session.FormatSessionList(sessions, activeID))
					}
					return sessionData(sessions, activeID), nil
				})
			})
		},
	}
	listCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	parent.AddCommand(listCmd)
}

func sessionData(sessions []session.Session, activeID string) []SessionData {
	data := make([]SessionData, 0, len(sessions))
	for i, s := range sessions {
		data = append(data, SessionData{
			Number:    i + 1,
			ID:        s.ID,
			Title:     s.Title,
			Messages:  len(s.Messages),
			UpdatedAt: s.Updated(),
			Active:    s.ID == activeID,
		})
	}
	return data
}

func (app *App) addSessionsRenameCommand(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "rename <session> <title...>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := joinArgs(args[1:])
			return app.withSessions(func(mgr *session.Manager) error {
				s, err := resolveRef(mgr, args[0])
				if err != nil {
					return err
				}
				if err := mgr.UpdateSessionTitle(s.ID, title); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %q to %q\n", s.Title, title)
				return nil
			})
		},
	})
}

func (app *App) addSessionsDeleteCommand(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:     "delete <session>...",
		Aliases: []string{"rm"},
		Short:   "Delete conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSessions(func(mgr *session.Manager) error {
				// Resolve every reference first; numbers shift as sessions go
				targets := make([]session.Session, 0, len(args))
				for _, ref := range args {
					s, err := resolveRef(mgr, ref)
					if err != nil {
						return err
					}
					targets = append(targets, s)
				}
				for _, s := range targets {
					if err := mgr.DeleteSession(s.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", s.Title)
				}
				return nil
			})
		},
	})
}

func (app *App) addSessionsExportCommand(parent *cobra.Command) {
	var format, output string

	exportCmd := &cobra.Command{
		Use:   "export [session]",
		Short: "Export a conversation as markdown, JSON or YAML",
		Long: `Export a conversation. Without a session the active one is exported.

The format defaults to the --output file extension, then markdown.`,
		Example: `  ollachat sessions export
  ollachat sessions export 2 --format yaml
  ollachat sessions export --output chat.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			if format == "" && output != "" {
				format = filepath.Ext(output)
			}
			f, err := session.ParseFormat(format)
			if err != nil {
				return err
			}

			return app.withSessions(func(mgr *session.Manager) error {
				s, err := resolveRef(mgr, ref)
				if err != nil {
					return err
				}
				data, err := session.Export(s, f)
				if err != nil {
					return fmt.Errorf("export session: %w", err)
				}
				return writeExport(cmd.OutOrStdout(), output, data)
			})
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "", "Export format (markdown, json, yaml)")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")

	parent.AddCommand(exportCmd)
}

func writeExport(out io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := out.Write(data)
		return err
	}
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "Exported to %s\n", path)
	return nil
}

// storageLocation describes where sessions are kept, for config output.
func storageLocation(backend, path string) string {
	b := storage.Backend(backend)
	if b == storage.BackendMemory {
		return "(memory)"
	}
	if path != "" {
		return path
	}
	if p, err := storage.DefaultPath(b); err == nil {
		return p
	}
	return "(unknown)"
}

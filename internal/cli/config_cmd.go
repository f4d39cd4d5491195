// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/config"
)

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func (app *App) addConfigCommands(rootCmd *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit configuration",
		Long: `Show and edit the ollachat configuration file.

Settings resolve in this order: command-line flags, environment (including
.env files), ~/.ollachat/config.toml, ~/.ollachat/config.json, defaults.`,
	}

	raw := map[string]string{annotationRawConfig: "true"}

	var jsonOut bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if jsonOut {
				return NewJSONResponse("config show", app.Config).Write(out)
			}
			fmt.Fprintln(out, DimStyle.Render("# file: "+app.configPath()))
			fmt.Fprintln(out, DimStyle.Render("# sessions: "+storageLocation(app.Config.Storage.Backend, app.Config.Storage.Path)))
			fmt.Fprint(out, app.Config.String())
			return nil
		},
	}
	showCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	getCmd := &cobra.Command{
		Use:       "get <key>",
		Short:     "Print one effective setting",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := app.Config.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:         "set <key> <value>",
		Short:       "Change a setting in the config file",
		Example:     "  ollachat config set ollama.model qwen2.5:7b\n  ollachat config set ui.theme light",
		Args:        cobra.MinimumNArgs(2),
		ValidArgs:   config.Keys(),
		Annotations: raw,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.configPath()
			if path == "" {
				return errors.New("cannot locate the config file")
			}
			value := joinArgs(args[1:])
			if err := setConfigValue(path, args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", args[0], value, path)
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:         "path",
		Short:       "Print the config file location",
		Args:        cobra.NoArgs,
		Annotations: raw,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), app.configPath())
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the defaults",
		Args:        cobra.NoArgs,
		Annotations: raw,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := app.configPath()
			if path == "" {
				return errors.New("cannot locate the config file")
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := saveConfig(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Wrote "+path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(showCmd, getCmd, setCmd, pathCmd, initCmd)
	rootCmd.AddCommand(configCmd)
}

// setConfigValue changes key in the file at path only. Environment and flag
// overrides are not written back.
func setConfigValue(path, key, value string) error {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if isJSONPath(path) {
			err = config.LoadJSON(cfg, path)
		} else {
			err = config.LoadTOML(cfg, path)
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := cfg.Set(key, value); err != nil {
		return err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	return saveConfig(cfg, path)
}

func saveConfig(cfg *config.Config, path string) error {
	if isJSONPath(path) {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

func isJSONPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".json")
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// MODELS COMMAND
// =============================================================================

func (app *App) addModelsCommand(rootCmd *cobra.Command) {
	var jsonOut bool

	modelsCmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"list-models"},
		Short:   "List installed models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return OutputJSON(out, jsonOut, "models", func() (interface{}, error) {
				models, err := app.newClient().ListModels(cmd.Context())
				if err != nil {
					return nil, describeOllamaError(err, app.Config.Ollama.URL)
				}
				data := modelData(models, app.Config.Ollama.Model)
				if !jsonOut {
					printModels(out, data)
				}
				return data, nil
			})
		},
	}
	modelsCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	rootCmd.AddCommand(modelsCmd)
}

// modelData marks the model a chat would start with: preferred when
// installed, the first one otherwise.
func modelData(models []ollama.ModelInfo, preferred string) []ModelData {
	selected := ""
	for _, m := range models {
		if m.Name == preferred {
			selected = preferred
		}
	}
	if selected == "" && len(models) > 0 {
		selected = models[0].Name
	}

	data := make([]ModelData, 0, len(models))
	for _, m := range models {
		data = append(data, ModelData{
			Name:       m.Name,
			Size:       m.Size,
			SizeHuman:  m.FormatSize(),
			Family:     m.Details.Family,
			Parameters: m.Details.ParameterSize,
			ModifiedAt: m.ModifiedAt,
			Selected:   m.Name == selected,
		})
	}
	return data
}

func printModels(out io.Writer, models []ModelData) {
	if len(models) == 0 {
		fmt.Fprintln(out, WarningStyle.Render("No models installed. Pull one with `ollama pull llama3.2`."))
		return
	}

	fmt.Fprintln(out, TitleStyle.Render(fmt.Sprintf("Models (%d)", len(models))))
	for _, m := range models {
		mark := " "
		if m.Selected {
			mark = SuccessStyle.Render("*")
		}
		fmt.Fprintf(out, "%s %s %10s  %s\n", mark,
			util.PadWidth(util.TruncateWidth(m.Name, 36), 36),
			m.SizeHuman,
			DimStyle.Render(m.Parameters))
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/ollachat/internal/ollama"
)

// =============================================================================
// MODEL SELECTION
// =============================================================================

// LoadModels fetches the installed models. The preferred model is selected
// when present, otherwise the current selection is kept if still installed,
// otherwise the first model. An empty list clears the selection.
func (o *Orchestrator) LoadModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	models, err := o.models.ListModels(ctx)
	if err != nil {
		o.logger.Warn("failed to load models", "err", err)
		return nil, fmt.Errorf("load models: %w", err)
	}

	o.mu.Lock()
	o.modelList = append([]ollama.ModelInfo(nil), models...)
	switch {
	case o.preferredModel != "" && hasModel(models, o.preferredModel):
		o.selected = o.preferredModel
	case o.selected != "" && hasModel(models, o.selected):
	case len(models) > 0:
		o.selected = models[0].Name
	default:
		o.selected = ""
	}
	selected := o.selected
	o.mu.Unlock()

	o.logger.Debug("models loaded", "count", len(models), "selected", selected)
	o.notify()
	return models, nil
}

// Models returns the models from the last LoadModels.
func (o *Orchestrator) Models() []ollama.ModelInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ollama.ModelInfo(nil), o.modelList...)
}

// SelectedModel returns the model used by the next generation.
func (o *Orchestrator) SelectedModel() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selected
}

// SelectModel chooses the model for later generations. When a model list
// has been loaded the name must be in it.
func (o *Orchestrator) SelectModel(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("model name is empty")
	}

	o.mu.Lock()
	if len(o.modelList) > 0 && !hasModel(o.modelList, name) {
		o.mu.Unlock()
		return fmt.Errorf("model %q is not installed", name)
	}
	o.selected = name
	o.mu.Unlock()

	o.notify()
	return nil
}

// CycleModel selects the next loaded model, wrapping around.
func (o *Orchestrator) CycleModel() string {
	o.mu.Lock()
	if len(o.modelList) == 0 {
		defer o.mu.Unlock()
		return o.selected
	}
	next := 0
	for i, m := range o.modelList {
		if m.Name == o.selected {
			next = (i + 1) % len(o.modelList)
			break
		}
	}
	o.selected = o.modelList[next].Name
	selected := o.selected
	o.mu.Unlock()

	o.notify()
	return selected
}

// SetPreferredModel changes the model LoadModels prefers.
func (o *Orchestrator) SetPreferredModel(name string) {
	o.mu.Lock()
	o.preferredModel = strings.TrimSpace(name)
	o.mu.Unlock()
}

func hasModel(models []ollama.ModelInfo, name string) bool {
	for _, m := range models {
		if m.Name == name {
			return true
		}
	}
	return false
}

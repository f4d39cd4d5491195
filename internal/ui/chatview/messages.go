// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatview

import (
	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/ollama"
)

// changedMsg signals that orchestrator state moved and the view should
// take a fresh snapshot.
type changedMsg struct{}

// modelsLoadedMsg carries the result of a model list request.
type modelsLoadedMsg struct {
	Models []ollama.ModelInfo
	Err    error
}

// configReloadedMsg carries a config file reload.
type configReloadedMsg struct {
	Config *config.Config
	Err    error
}

// clearNoteMsg expires a status note. Seq guards against clearing a newer one.
type clearNoteMsg struct {
	Seq int
}

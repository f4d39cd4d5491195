// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the ollachat TUI.
//
// All colors use Lip Gloss AdaptiveColor so a single palette serves light and
// dark terminals. NewTheme detects the background with termenv unless the
// configuration forces a mode.
//
// # Usage
//
//	theme := styles.NewTheme(cfg.UI.Theme)
//	label := theme.UserLabel.Render("You")
//
// Status helpers pair every color with an ASCII indicator:
//
//	fmt.Println(styles.RenderError("Ollama is not running"))
package styles

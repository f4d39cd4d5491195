// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatview

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ollachat/internal/config"
)

// Run shows the full-screen chat until the user quits. When configPath is
// set, edits to that file are applied while running. Any generation still
// in flight on exit is stopped.
func Run(ctx context.Context, c Controller, opts Options, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := New(ctx, c, opts)
	c.SetOnChange(m.Notify)
	defer c.SetOnChange(nil)

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	if configPath != "" {
		err := config.Watch(ctx, configPath, func(cfg *config.Config, err error) {
			p.Send(configReloadedMsg{Config: cfg, Err: err})
		})
		if err != nil {
			m.logger.Warn("config hot reload unavailable", "path", configPath, "err", err)
		}
	}

	_, err := p.Run()
	c.Stop()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

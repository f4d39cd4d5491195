// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatview

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"
)

// DefaultRefreshRate caps view refreshes per second while a reply streams.
const DefaultRefreshRate = 30

// notifier turns change callbacks into at most one pending refresh. Signal
// never blocks, so it is safe to call from a generation goroutine while the
// session manager holds its lock.
type notifier struct {
	ch      chan struct{}
	limiter *rate.Limiter
}

func newNotifier(perSecond int) *notifier {
	if perSecond <= 0 {
		perSecond = DefaultRefreshRate
	}
	return &notifier{
		ch:      make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Signal records that something changed.
func (n *notifier) Signal() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// wait returns a command that delivers changedMsg after the next signal,
// paced by the limiter. It returns nil once ctx is done.
func (n *notifier) wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-n.ch:
		case <-ctx.Done():
			return nil
		}
		if err := n.limiter.Wait(ctx); err != nil {
			return nil
		}
		return changedMsg{}
	}
}

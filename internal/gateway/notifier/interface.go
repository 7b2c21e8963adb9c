package notifier

import "context"

// TextNotifier is the fire-and-forget message sink used after trades.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Noop drops every message. It stands in when no sink is configured.
type Noop struct{}

func (Noop) SendText(context.Context, string) error { return nil }

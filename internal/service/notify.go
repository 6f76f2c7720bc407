package service

import (
	"context"

	"github.com/rs/zerolog"
)

// Notification events.
const (
	EventResourceProposed  = "resource_proposed"
	EventResourcePublished = "resource_published"
)

// Notification tells interested parties about a lifecycle change.
type Notification struct {
	Event      string
	ResourceID string
	TextID     string
	ActorID    string
	Title      string
}

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier returns a Notifier that logs at info level.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) {
	n.log.Info().
		Str("event", note.Event).
		Str("resource_id", note.ResourceID).
		Str("text_id", note.TextID).
		Str("actor_id", note.ActorID).
		Str("title", note.Title).
		Msg("notification")
}

// Package logging writes asynchronous replies to the structured log when no
// chat bridge is configured.
package logging

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
)

// Notifier logs each notification at info level.
type Notifier struct {
	logger *slog.Logger
}

// New creates a Notifier. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, userID, text string) error {
	n.logger.InfoContext(ctx, "notification",
		slog.String("user_id", userID),
		slog.String("text", text))
	return nil
}

var _ ports.Notifier = (*Notifier)(nil)

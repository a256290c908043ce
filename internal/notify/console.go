package notify

import (
	"context"
	"log/slog"
)

// ConsoleDispatcher logs the recipient and subject instead of sending mail. The text body is
// logged only when ShowBody is set, for local development where codes must be readable.
type ConsoleDispatcher struct {
	Logger   *slog.Logger
	ShowBody bool
}

func (d *ConsoleDispatcher) Send(ctx context.Context, msg Message) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"to", msg.To, "subject", msg.Subject}
	if d.ShowBody {
		attrs = append(attrs, "text", msg.Text)
	}
	logger.InfoContext(ctx, "notify: console dispatch", attrs...)
	return nil
}

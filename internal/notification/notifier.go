package notification

import (
	"context"
	"log/slog"
)

// Notifier delivers operational alerts (low client credit, dead gateways)
// to whoever watches the platform. The CRUD layer owns richer channels;
// the engine only needs a fire-and-forget hook.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(ctx context.Context, subject, body string) error {
	slog.WarnContext(ctx, "ALERT", slog.String("subject", subject), slog.String("body", body))
	return nil
}

// Compile-time check
var _ Notifier = (*LogNotifier)(nil)

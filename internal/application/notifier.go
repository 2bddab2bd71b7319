package application

import (
	"context"
	"log/slog"
)

// Notifier delivers alerts about scheduled commands that failed for good.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ context.Context, _ string) error {
	return nil
}

// LogNotifier writes alerts to the log when no push service is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, message string) error {
	n.Logger.WarnContext(ctx, "notification", "message", message)
	return nil
}

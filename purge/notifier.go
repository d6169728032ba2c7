package purge

import (
	"context"
	"log/slog"

	"github.com/cyp0633/caldora-purge/journal"
	"github.com/cyp0633/caldora-purge/recurrence"
)

// Notice tells attendees that an organizer's event was cancelled or cut
// short.
type Notice struct {
	UID       string
	Organizer string
	Action    recurrence.Action
}

// Notifier delivers cancellation notices. Notices are sent after the purge
// of their principal commits; delivery failures are logged and otherwise
// ignored.
type Notifier interface {
	NotifyCancel(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to a logger instead of delivering them.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyCancel implements Notifier.
func (l LogNotifier) NotifyCancel(ctx context.Context, n Notice) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "cancellation notice",
		"uid", n.UID,
		"organizer", n.Organizer,
		"action", n.Action.String())
	return nil
}

// Journal receives one entry per principal outcome.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

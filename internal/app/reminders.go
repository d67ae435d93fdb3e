package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/drfeelgood/core/internal/modules/journal/reminder"
	"go.uber.org/zap"
)

type duePusher interface {
	Push(ctx context.Context, title, body string) error
}

type dueSource interface {
	Due(ctx context.Context, day time.Time) ([]reminder.Reminder, error)
}

// dueNotifier pushes each overdue pending reminder at most once per calendar day. State is
// kept in memory, so a restart may repeat that day's push.
type dueNotifier struct {
	source dueSource
	push   duePusher
	logger *zap.Logger

	mu       sync.Mutex
	notified map[string]string // reminder key -> last pushed day
}

func newDueNotifier(source dueSource, push duePusher, logger *zap.Logger) *dueNotifier {
	return &dueNotifier{source: source, push: push, logger: logger, notified: map[string]string{}}
}

func dueKey(r reminder.Reminder) string {
	return fmt.Sprintf("%d|%s", r.ID, r.Reminder)
}

func (n *dueNotifier) run(ctx context.Context, now time.Time) error {
	due, err := n.source.Due(ctx, now)
	if err != nil {
		return err
	}
	today := now.Format("2006-01-02")

	n.mu.Lock()
	defer n.mu.Unlock()

	pending := make(map[string]string, len(due))
	var fresh []reminder.Reminder
	for _, r := range due {
		key := dueKey(r)
		last := n.notified[key]
		pending[key] = last
		if last != today {
			fresh = append(fresh, r)
		}
	}
	// completed or deleted reminders drop out here
	n.notified = pending

	if len(fresh) == 0 {
		return nil
	}
	lines := make([]string, 0, len(fresh))
	for _, r := range fresh {
		lines = append(lines, fmt.Sprintf("%s (due %s)", r.Reminder, r.DueDate))
	}
	n.logger.Info("pushing due reminders", zap.Int("count", len(fresh)), zap.Int("pending", len(due)))
	if err := n.push.Push(ctx, fmt.Sprintf("%d reminder(s) due", len(fresh)), strings.Join(lines, "\n")); err != nil {
		return err
	}
	for _, r := range fresh {
		n.notified[dueKey(r)] = today
	}
	return nil
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mantrakit/mantrakit/internal/messages"
	"github.com/mantrakit/mantrakit/internal/messaging"
	"github.com/mantrakit/mantrakit/internal/models"
	"github.com/mantrakit/mantrakit/internal/store"
)

// ReminderSweepSpec runs the reminder sweep once a minute.
const ReminderSweepSpec = "* * * * *"

// ReminderDispatcher sweeps due reminders from the store and delivers each
// user's mantra through the messaging service. A failed delivery leaves the
// reminder unsent so the next sweep retries it.
type ReminderDispatcher struct {
	store   store.Store
	svc     messaging.Service
	catalog *messages.Catalog
	now     func() time.Time
}

// NewReminderDispatcher creates a dispatcher over the given store and channel.
func NewReminderDispatcher(st store.Store, svc messaging.Service, catalog *messages.Catalog) *ReminderDispatcher {
	if catalog == nil {
		catalog = messages.NewCatalog()
	}
	return &ReminderDispatcher{store: st, svc: svc, catalog: catalog, now: time.Now}
}

// Register installs the per-minute sweep on the scheduler.
func (d *ReminderDispatcher) Register(ctx context.Context, s *Scheduler) error {
	if err := s.AddJob(ReminderSweepSpec, func() {
		if _, err := d.Dispatch(ctx); err != nil {
			slog.Error("ReminderDispatcher sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register reminder sweep: %w", err)
	}
	slog.Info("ReminderDispatcher sweep registered", "spec", ReminderSweepSpec)
	return nil
}

// Dispatch delivers every due reminder once and returns the number sent.
func (d *ReminderDispatcher) Dispatch(ctx context.Context) (int, error) {
	due, err := d.store.DueReminders(d.now())
	if err != nil {
		return 0, fmt.Errorf("failed to load due reminders: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	slog.Debug("ReminderDispatcher dispatching", "count", len(due))

	sent := 0
	for _, r := range due {
		if err := d.deliver(ctx, r); err != nil {
			slog.Error("ReminderDispatcher delivery failed", "error", err, "reminder_id", r.ID, "user_id", r.UserID)
			continue
		}
		if err := d.store.MarkReminderSent(r.ID); err != nil {
			// Delivered but not flagged; the next sweep may repeat it.
			slog.Error("ReminderDispatcher failed to mark reminder sent", "error", err, "reminder_id", r.ID)
			continue
		}
		sent++
	}
	slog.Info("ReminderDispatcher sweep done", "due", len(due), "sent", sent)
	return sent, nil
}

func (d *ReminderDispatcher) deliver(ctx context.Context, r models.Reminder) error {
	body := d.catalog.Get(messages.KeyReminderMessage)
	if text := d.mantraText(r); text != "" {
		body += "\n" + text
	}
	return d.svc.SendMessage(ctx, r.UserID, body)
}

// mantraText resolves the mantra a reminder points at. A missing mantra still
// produces the reminder header rather than dropping the reminder.
func (d *ReminderDispatcher) mantraText(r models.Reminder) string {
	mantras, err := d.store.GetMantras(r.UserID)
	if err != nil {
		slog.Error("ReminderDispatcher mantra lookup failed", "error", err, "user_id", r.UserID)
		return ""
	}
	for _, m := range mantras {
		if m.ID == r.MantraID {
			return m.Text
		}
	}
	slog.Warn("ReminderDispatcher mantra not found", "mantra_id", r.MantraID, "user_id", r.UserID)
	return ""
}

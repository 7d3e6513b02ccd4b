package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mantrakit/mantrakit/internal/models"
	"github.com/mantrakit/mantrakit/internal/store"
	"github.com/mantrakit/mantrakit/internal/util"
)

// DefaultReminderDelay is applied when no reminder delay is configured.
const DefaultReminderDelay = 24 * time.Hour

// Coordinator drives the dialogue end to end: it wraps the orchestrator and
// performs the artifact hand-off (mantra generation, persistence, reminder
// scheduling) once a session terminates.
type Coordinator struct {
	orchestrator  *Orchestrator
	mantras       *MantraGenerator
	store         store.Store
	reminderDelay time.Duration
}

// NewCoordinator creates a coordinator over the given collaborators.
func NewCoordinator(orchestrator *Orchestrator, mantras *MantraGenerator, st store.Store, reminderDelay time.Duration) *Coordinator {
	if reminderDelay == 0 {
		reminderDelay = DefaultReminderDelay
	}
	return &Coordinator{
		orchestrator:  orchestrator,
		mantras:       mantras,
		store:         st,
		reminderDelay: reminderDelay,
	}
}

// StartDialogue begins a fresh dialogue for the user.
func (c *Coordinator) StartDialogue(ctx context.Context, userID, openingQuestion string) (*models.Session, error) {
	return c.orchestrator.StartDialogue(ctx, userID, openingQuestion)
}

// Session returns the user's current session.
func (c *Coordinator) Session(ctx context.Context, userID string) (*models.Session, error) {
	return c.orchestrator.Session(ctx, userID)
}

// SubmitAnswer records one answer and advances the dialogue.
func (c *Coordinator) SubmitAnswer(ctx context.Context, userID, answerText string) (*models.Session, error) {
	return c.orchestrator.SubmitAnswer(ctx, userID, answerText)
}

// CompleteDialogue performs the artifact hand-off for a DONE session:
// generates the mantra, persists it with the next step index, schedules the
// follow-up reminder and archives the session. Generation failure leaves the
// persisted history and the DONE session untouched so the hand-off can be
// retried.
func (c *Coordinator) CompleteDialogue(ctx context.Context, sess *models.Session) (*models.Mantra, error) {
	if sess == nil || sess.State != models.SessionStateDone {
		return nil, models.ErrInvalidState
	}

	text, err := c.mantras.Generate(ctx, sess.DialogHistory)
	if err != nil {
		// History stays persisted; generation and persistence are
		// independent failure domains.
		return nil, err
	}

	count, err := c.store.CountMantras(sess.UserID)
	if err != nil {
		slog.Error("CompleteDialogue step index lookup failed", "error", err, "userID", sess.UserID)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	mantra := models.Mantra{
		ID:           util.GenerateMantraID(),
		UserID:       sess.UserID,
		Text:         text,
		StepIndex:    count + 1,
		TopicContext: sess.Transcript(),
		CreatedAt:    time.Now(),
	}
	if err := c.store.SaveMantra(mantra); err != nil {
		slog.Error("CompleteDialogue mantra persistence failed", "error", err, "userID", sess.UserID)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	reminder := models.Reminder{
		ID:       util.GenerateReminderID(),
		UserID:   sess.UserID,
		MantraID: mantra.ID,
		RemindAt: mantra.CreatedAt.Add(c.reminderDelay),
		Sent:     false,
	}
	if err := c.store.ScheduleReminder(reminder); err != nil {
		// The mantra is already saved; a lost reminder is logged, not fatal.
		slog.Error("CompleteDialogue reminder scheduling failed", "error", err, "userID", sess.UserID, "mantraID", mantra.ID)
	}

	if err := c.orchestrator.Archive(ctx, sess.UserID); err != nil {
		slog.Warn("CompleteDialogue session archive failed", "error", err, "userID", sess.UserID)
	}

	slog.Info("Dialogue hand-off completed", "userID", sess.UserID, "mantraID", mantra.ID, "stepIndex", mantra.StepIndex, "remindAt", reminder.RemindAt)
	return &mantra, nil
}

// Package store provides storage backends for MantraKit.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL implementations selected by DSN type.
package store

import (
	"strings"
	"time"

	"github.com/mantrakit/mantrakit/internal/models"
)

// Store defines the persistence gateway used by the dialogue core.
//
// Answer records are append-only; AppendAnswer is an upsert keyed by
// (session_id, question_index) so at-least-once writes stay idempotent.
type Store interface {
	// SaveSession stores or updates the in-progress dialogue session for a user.
	SaveSession(s models.Session) error
	// GetSession retrieves the session for a user, or nil if none exists.
	GetSession(userID string) (*models.Session, error)
	// DeleteSession removes the session for a user.
	DeleteSession(userID string) error

	// AppendAnswer persists one accepted answer (idempotent upsert).
	AppendAnswer(rec models.AnswerRecord) error
	// AppendAnswers persists a batch of answers (idempotent upsert per record).
	AppendAnswers(recs []models.AnswerRecord) error
	// GetAnswers returns all persisted answers for a user in insertion order.
	GetAnswers(userID string) ([]models.AnswerRecord, error)

	// SaveMantra persists a generated mantra.
	SaveMantra(m models.Mantra) error
	// GetMantras returns a user's mantras ordered by step index.
	GetMantras(userID string) ([]models.Mantra, error)
	// CountMantras returns the number of mantras stored for a user.
	CountMantras(userID string) (int, error)

	// ScheduleReminder persists a pending reminder.
	ScheduleReminder(r models.Reminder) error
	// DueReminders returns unsent reminders with remind_at <= now.
	DueReminders(now time.Time) ([]models.Reminder, error)
	// MarkReminderSent flags a reminder as dispatched.
	MarkReminderSent(id string) error

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	// DSN is the database connection string (file path for SQLite).
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

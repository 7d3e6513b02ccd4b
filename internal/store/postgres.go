// Package store provides storage backends for MantraKit.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/mantrakit/mantrakit/internal/models"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// SaveSession stores or updates the in-progress session for a user.
func (s *PostgresStore) SaveSession(sess models.Session) error {
	historyJSON, err := json.Marshal(sess.DialogHistory)
	if err != nil {
		slog.Error("PostgresStore SaveSession marshal failed", "error", err, "userID", sess.UserID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (user_id, session_id, state, current_question, question_count, dialog_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			state = EXCLUDED.state,
			current_question = EXCLUDED.current_question,
			question_count = EXCLUDED.question_count,
			dialog_history = EXCLUDED.dialog_history,
			updated_at = EXCLUDED.updated_at`,
		sess.UserID, sess.ID, sess.State, sess.CurrentQuestion, sess.QuestionCount, string(historyJSON), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("failed to save session for %s: %w", sess.UserID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "userID", sess.UserID, "state", sess.State)
	return nil
}

// GetSession retrieves the session for a user, or nil if none exists.
func (s *PostgresStore) GetSession(userID string) (*models.Session, error) {
	row := s.db.QueryRow(`
		SELECT user_id, session_id, state, current_question, question_count, dialog_history, created_at, updated_at
		FROM sessions WHERE user_id = $1`, userID)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "userID", userID)
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes the session for a user.
func (s *PostgresStore) DeleteSession(userID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "userID", userID)
		return err
	}
	return nil
}

// AppendAnswer persists one answer, idempotent on (session_id, question_index).
func (s *PostgresStore) AppendAnswer(rec models.AnswerRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO answers (session_id, user_id, question_index, question, answer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, question_index) DO UPDATE SET question = EXCLUDED.question, answer = EXCLUDED.answer`,
		rec.SessionID, rec.UserID, rec.QuestionIndex, rec.Question, rec.Answer, rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AppendAnswer failed", "error", err, "userID", rec.UserID, "index", rec.QuestionIndex)
		return fmt.Errorf("failed to append answer for %s: %w", rec.UserID, err)
	}
	return nil
}

// AppendAnswers persists a batch of answers in one transaction.
func (s *PostgresStore) AppendAnswers(recs []models.AnswerRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore AppendAnswers begin failed", "error", err)
		return err
	}
	for _, rec := range recs {
		if _, err := tx.Exec(`
			INSERT INTO answers (session_id, user_id, question_index, question, answer, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, question_index) DO UPDATE SET question = EXCLUDED.question, answer = EXCLUDED.answer`,
			rec.SessionID, rec.UserID, rec.QuestionIndex, rec.Question, rec.Answer, rec.CreatedAt); err != nil {
			tx.Rollback()
			slog.Error("PostgresStore AppendAnswers exec failed", "error", err, "userID", rec.UserID, "index", rec.QuestionIndex)
			return fmt.Errorf("failed to append answer batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore AppendAnswers commit failed", "error", err)
		return err
	}
	return nil
}

// GetAnswers returns all persisted answers for a user in insertion order.
func (s *PostgresStore) GetAnswers(userID string) ([]models.AnswerRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, user_id, question_index, question, answer, created_at
		FROM answers WHERE user_id = $1 ORDER BY created_at, question_index`, userID)
	if err != nil {
		slog.Error("PostgresStore GetAnswers query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()
	return collectAnswers(rows)
}

// SaveMantra persists a generated mantra.
func (s *PostgresStore) SaveMantra(m models.Mantra) error {
	_, err := s.db.Exec(`
		INSERT INTO mantras (id, user_id, text, step_index, topic_context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.Text, m.StepIndex, m.TopicContext, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveMantra failed", "error", err, "userID", m.UserID)
		return fmt.Errorf("failed to save mantra for %s: %w", m.UserID, err)
	}
	return nil
}

// GetMantras returns a user's mantras ordered by step index.
func (s *PostgresStore) GetMantras(userID string) ([]models.Mantra, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, text, step_index, topic_context, created_at
		FROM mantras WHERE user_id = $1 ORDER BY step_index`, userID)
	if err != nil {
		slog.Error("PostgresStore GetMantras query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query mantras: %w", err)
	}
	defer rows.Close()
	return collectMantras(rows)
}

// CountMantras returns the number of mantras stored for a user.
func (s *PostgresStore) CountMantras(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM mantras WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountMantras failed", "error", err, "userID", userID)
		return 0, err
	}
	return count, nil
}

// ScheduleReminder persists a pending reminder.
func (s *PostgresStore) ScheduleReminder(r models.Reminder) error {
	_, err := s.db.Exec(`
		INSERT INTO reminders (id, user_id, mantra_id, remind_at, sent)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.UserID, r.MantraID, r.RemindAt, r.Sent)
	if err != nil {
		slog.Error("PostgresStore ScheduleReminder failed", "error", err, "userID", r.UserID)
		return fmt.Errorf("failed to schedule reminder for %s: %w", r.UserID, err)
	}
	return nil
}

// DueReminders returns unsent reminders with remind_at <= now.
func (s *PostgresStore) DueReminders(now time.Time) ([]models.Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, mantra_id, remind_at, sent
		FROM reminders WHERE sent = FALSE AND remind_at <= $1 ORDER BY remind_at`, now)
	if err != nil {
		slog.Error("PostgresStore DueReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

// MarkReminderSent flags a reminder as dispatched.
func (s *PostgresStore) MarkReminderSent(id string) error {
	_, err := s.db.Exec(`UPDATE reminders SET sent = TRUE WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore MarkReminderSent failed", "error", err, "id", id)
		return err
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// Package store provides storage backends for MantraKit.
//
// This file implements a SQLite-backed store for sessions, answers, mantras
// and reminders.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/mantrakit/mantrakit/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveSession stores or updates the in-progress session for a user.
func (s *SQLiteStore) SaveSession(sess models.Session) error {
	historyJSON, err := json.Marshal(sess.DialogHistory)
	if err != nil {
		slog.Error("SQLiteStore SaveSession marshal failed", "error", err, "userID", sess.UserID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO sessions (user_id, session_id, state, current_question, question_count, dialog_history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.UserID, sess.ID, sess.State, sess.CurrentQuestion, sess.QuestionCount, string(historyJSON), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("failed to save session for %s: %w", sess.UserID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "userID", sess.UserID, "state", sess.State)
	return nil
}

// GetSession retrieves the session for a user, or nil if none exists.
func (s *SQLiteStore) GetSession(userID string) (*models.Session, error) {
	row := s.db.QueryRow(`
		SELECT user_id, session_id, state, current_question, question_count, dialog_history, created_at, updated_at
		FROM sessions WHERE user_id = ?`, userID)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "userID", userID)
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes the session for a user.
func (s *SQLiteStore) DeleteSession(userID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "userID", userID)
	return nil
}

// AppendAnswer persists one answer, idempotent on (session_id, question_index).
func (s *SQLiteStore) AppendAnswer(rec models.AnswerRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO answers (session_id, user_id, question_index, question, answer, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, question_index) DO UPDATE SET question = excluded.question, answer = excluded.answer`,
		rec.SessionID, rec.UserID, rec.QuestionIndex, rec.Question, rec.Answer, rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AppendAnswer failed", "error", err, "userID", rec.UserID, "index", rec.QuestionIndex)
		return fmt.Errorf("failed to append answer for %s: %w", rec.UserID, err)
	}
	slog.Debug("SQLiteStore AppendAnswer succeeded", "userID", rec.UserID, "index", rec.QuestionIndex)
	return nil
}

// AppendAnswers persists a batch of answers in one transaction.
func (s *SQLiteStore) AppendAnswers(recs []models.AnswerRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore AppendAnswers begin failed", "error", err)
		return err
	}
	for _, rec := range recs {
		if _, err := tx.Exec(`
			INSERT INTO answers (session_id, user_id, question_index, question, answer, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, question_index) DO UPDATE SET question = excluded.question, answer = excluded.answer`,
			rec.SessionID, rec.UserID, rec.QuestionIndex, rec.Question, rec.Answer, rec.CreatedAt); err != nil {
			tx.Rollback()
			slog.Error("SQLiteStore AppendAnswers exec failed", "error", err, "userID", rec.UserID, "index", rec.QuestionIndex)
			return fmt.Errorf("failed to append answer batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore AppendAnswers commit failed", "error", err)
		return err
	}
	slog.Debug("SQLiteStore AppendAnswers succeeded", "count", len(recs))
	return nil
}

// GetAnswers returns all persisted answers for a user in insertion order.
func (s *SQLiteStore) GetAnswers(userID string) ([]models.AnswerRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, user_id, question_index, question, answer, created_at
		FROM answers WHERE user_id = ? ORDER BY created_at, question_index`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetAnswers query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()
	return collectAnswers(rows)
}

// SaveMantra persists a generated mantra.
func (s *SQLiteStore) SaveMantra(m models.Mantra) error {
	_, err := s.db.Exec(`
		INSERT INTO mantras (id, user_id, text, step_index, topic_context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Text, m.StepIndex, m.TopicContext, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveMantra failed", "error", err, "userID", m.UserID)
		return fmt.Errorf("failed to save mantra for %s: %w", m.UserID, err)
	}
	slog.Debug("SQLiteStore SaveMantra succeeded", "userID", m.UserID, "stepIndex", m.StepIndex)
	return nil
}

// GetMantras returns a user's mantras ordered by step index.
func (s *SQLiteStore) GetMantras(userID string) ([]models.Mantra, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, text, step_index, topic_context, created_at
		FROM mantras WHERE user_id = ? ORDER BY step_index`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetMantras query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query mantras: %w", err)
	}
	defer rows.Close()
	return collectMantras(rows)
}

// CountMantras returns the number of mantras stored for a user.
func (s *SQLiteStore) CountMantras(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM mantras WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountMantras failed", "error", err, "userID", userID)
		return 0, err
	}
	return count, nil
}

// ScheduleReminder persists a pending reminder.
func (s *SQLiteStore) ScheduleReminder(r models.Reminder) error {
	_, err := s.db.Exec(`
		INSERT INTO reminders (id, user_id, mantra_id, remind_at, sent)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.MantraID, r.RemindAt, r.Sent)
	if err != nil {
		slog.Error("SQLiteStore ScheduleReminder failed", "error", err, "userID", r.UserID)
		return fmt.Errorf("failed to schedule reminder for %s: %w", r.UserID, err)
	}
	slog.Debug("SQLiteStore ScheduleReminder succeeded", "userID", r.UserID, "remindAt", r.RemindAt)
	return nil
}

// DueReminders returns unsent reminders with remind_at <= now.
func (s *SQLiteStore) DueReminders(now time.Time) ([]models.Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, mantra_id, remind_at, sent
		FROM reminders WHERE sent = 0 AND remind_at <= ? ORDER BY remind_at`, now)
	if err != nil {
		slog.Error("SQLiteStore DueReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

// MarkReminderSent flags a reminder as dispatched.
func (s *SQLiteStore) MarkReminderSent(id string) error {
	_, err := s.db.Exec(`UPDATE reminders SET sent = 1 WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore MarkReminderSent failed", "error", err, "id", id)
		return err
	}
	slog.Debug("SQLiteStore MarkReminderSent succeeded", "id", id)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

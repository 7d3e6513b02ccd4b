package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mantrakit/mantrakit/internal/models"
)

// scanSession scans one session row, decoding the JSON dialogue history.
func scanSession(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var historyJSON sql.NullString
	err := row.Scan(&sess.UserID, &sess.ID, &sess.State, &sess.CurrentQuestion,
		&sess.QuestionCount, &historyJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.DialogHistory = []models.QA{}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &sess.DialogHistory); err != nil {
			slog.Error("scanSession history unmarshal failed", "error", err, "userID", sess.UserID)
			return nil, fmt.Errorf("failed to decode dialog history: %w", err)
		}
	}
	return &sess, nil
}

// collectAnswers drains answer rows.
func collectAnswers(rows *sql.Rows) ([]models.AnswerRecord, error) {
	var out []models.AnswerRecord
	for rows.Next() {
		var rec models.AnswerRecord
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &rec.QuestionIndex, &rec.Question, &rec.Answer, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer failed: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer rows: %w", err)
	}
	return out, nil
}

// collectMantras drains mantra rows.
func collectMantras(rows *sql.Rows) ([]models.Mantra, error) {
	var out []models.Mantra
	for rows.Next() {
		var m models.Mantra
		var topicContext sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.StepIndex, &topicContext, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mantra failed: %w", err)
		}
		m.TopicContext = topicContext.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mantra rows: %w", err)
	}
	return out, nil
}

// collectReminders drains reminder rows.
func collectReminders(rows *sql.Rows) ([]models.Reminder, error) {
	var out []models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.ID, &r.UserID, &r.MantraID, &r.RemindAt, &r.Sent); err != nil {
			return nil, fmt.Errorf("scan reminder failed: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminder rows: %w", err)
	}
	return out, nil
}

package store

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mantrakit/mantrakit/internal/models"
)

// InMemoryStore is a map-backed Store used in tests and DSN-less development
// runs. Safe for concurrent use.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]models.Session
	answers   []models.AnswerRecord
	answerIdx map[string]int // (session_id, question_index) -> position in answers
	mantras   []models.Mantra
	reminders map[string]models.Reminder
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]models.Session),
		answerIdx: make(map[string]int),
		reminders: make(map[string]models.Reminder),
	}
}

func answerKey(sessionID string, questionIndex int) string {
	return sessionID + "#" + strconv.Itoa(questionIndex)
}

// SaveSession stores or updates the session for a user.
func (s *InMemoryStore) SaveSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess
	return nil
}

// GetSession retrieves the session for a user, or nil if none exists.
func (s *InMemoryStore) GetSession(userID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	cp := sess
	cp.DialogHistory = append([]models.QA(nil), sess.DialogHistory...)
	return &cp, nil
}

// DeleteSession removes the session for a user.
func (s *InMemoryStore) DeleteSession(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// AppendAnswer persists one answer, replacing any record with the same
// (session_id, question_index).
func (s *InMemoryStore) AppendAnswer(rec models.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAnswerLocked(rec)
	return nil
}

// AppendAnswers persists a batch of answers.
func (s *InMemoryStore) AppendAnswers(recs []models.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.appendAnswerLocked(rec)
	}
	return nil
}

func (s *InMemoryStore) appendAnswerLocked(rec models.AnswerRecord) {
	key := answerKey(rec.SessionID, rec.QuestionIndex)
	if pos, ok := s.answerIdx[key]; ok {
		s.answers[pos] = rec
		return
	}
	s.answerIdx[key] = len(s.answers)
	s.answers = append(s.answers, rec)
}

// GetAnswers returns all answers for a user in insertion order.
func (s *InMemoryStore) GetAnswers(userID string) ([]models.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AnswerRecord
	for _, rec := range s.answers {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SaveMantra persists a generated mantra.
func (s *InMemoryStore) SaveMantra(m models.Mantra) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mantras = append(s.mantras, m)
	return nil
}

// GetMantras returns a user's mantras ordered by step index.
func (s *InMemoryStore) GetMantras(userID string) ([]models.Mantra, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Mantra
	for _, m := range s.mantras {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

// CountMantras returns the number of mantras stored for a user.
func (s *InMemoryStore) CountMantras(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.mantras {
		if m.UserID == userID {
			count++
		}
	}
	return count, nil
}

// ScheduleReminder persists a pending reminder.
func (s *InMemoryStore) ScheduleReminder(r models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.ID] = r
	return nil
}

// DueReminders returns unsent reminders with remind_at <= now.
func (s *InMemoryStore) DueReminders(now time.Time) ([]models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []models.Reminder
	for _, r := range s.reminders {
		if !r.Sent && !r.RemindAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RemindAt.Before(due[j].RemindAt) })
	return due, nil
}

// MarkReminderSent flags a reminder as dispatched.
func (s *InMemoryStore) MarkReminderSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil
	}
	r.Sent = true
	s.reminders[id] = r
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

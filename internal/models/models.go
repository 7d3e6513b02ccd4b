// Package models defines the core data structures for MantraKit.
//
// It includes the dialogue Session entity, persisted answer records, generated
// mantras and reminders, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionState represents the lifecycle state of a dialogue session.
type SessionState string

const (
	// SessionStateAwaitingAnswer indicates the session has a pending question.
	SessionStateAwaitingAnswer SessionState = "AWAITING_ANSWER"
	// SessionStateDone indicates the dialogue has terminated.
	SessionStateDone SessionState = "DONE"
)

// Validation constants for dialogue configuration.
const (
	// MinQuestionLimit defines the smallest allowed number of questions per dialogue.
	MinQuestionLimit = 1
	// MaxAnswerLength defines the maximum allowed length for a single answer.
	MaxAnswerLength = 4096
)

// Error variables for better error handling and testability.
var (
	// ErrInvalidState signals protocol misuse, such as submitting an answer to a DONE session.
	ErrInvalidState = errors.New("session is not awaiting an answer")
	// ErrGenerationFailed signals that an external text-generation call failed or timed out.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrPersistence signals that a durable write was not acknowledged.
	ErrPersistence = errors.New("persistence failed")
	// ErrEmptyAnswer signals a blank answer submission.
	ErrEmptyAnswer = errors.New("answer cannot be empty")
	// ErrAnswerTooLong signals an answer exceeding MaxAnswerLength.
	ErrAnswerTooLong = errors.New("answer exceeds maximum length")
	// ErrEmptyUserID signals a missing user identity.
	ErrEmptyUserID = errors.New("user ID cannot be empty")
	// ErrSessionNotFound signals that no session exists for the user.
	ErrSessionNotFound = errors.New("session not found")
)

// QA is one (question, answer) pair of the dialogue history.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Session is one in-progress dialogue instance for a user.
//
// DialogHistory is append-only and insertion-ordered; QuestionCount always
// equals len(DialogHistory). Once State is DONE the session is immutable and
// a new Session must be created for further interaction.
type Session struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	DialogHistory   []QA         `json:"dialog_history"`
	CurrentQuestion string       `json:"current_question"`
	QuestionCount   int          `json:"question_count"`
	State           SessionState `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewSession creates a session awaiting its first answer.
func NewSession(userID, openingQuestion string) *Session {
	now := time.Now()
	return &Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		DialogHistory:   []QA{},
		CurrentQuestion: openingQuestion,
		QuestionCount:   0,
		State:           SessionStateAwaitingAnswer,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate checks the session invariants.
func (s *Session) Validate() error {
	if s.UserID == "" {
		return ErrEmptyUserID
	}
	if s.QuestionCount != len(s.DialogHistory) {
		return fmt.Errorf("question count %d does not match history length %d", s.QuestionCount, len(s.DialogHistory))
	}
	if s.State == SessionStateAwaitingAnswer && s.CurrentQuestion == "" {
		return errors.New("current question cannot be empty while awaiting an answer")
	}
	return nil
}

// Answers returns the answer texts in submission order.
func (s *Session) Answers() []string {
	answers := make([]string, 0, len(s.DialogHistory))
	for _, qa := range s.DialogHistory {
		answers = append(answers, qa.Answer)
	}
	return answers
}

// SeedContext returns the first answer of the dialogue, which anchors every
// subsequent question-generation call.
func (s *Session) SeedContext() string {
	if len(s.DialogHistory) == 0 {
		return ""
	}
	return s.DialogHistory[0].Answer
}

// Transcript serializes the dialogue history for prompt embedding.
func (s *Session) Transcript() string {
	var b strings.Builder
	for i, qa := range s.DialogHistory {
		fmt.Fprintf(&b, "Question %d: %s\nAnswer %d: %s\n", i+1, qa.Question, i+1, qa.Answer)
	}
	return b.String()
}

// IsValidSessionState checks if the given session state is supported.
func IsValidSessionState(st SessionState) bool {
	switch st {
	case SessionStateAwaitingAnswer, SessionStateDone:
		return true
	default:
		return false
	}
}

// AnswerRecord is the persisted, append-only copy of one accepted answer.
// Records are deduplicated by (SessionID, QuestionIndex) so at-least-once
// writes stay idempotent while dialogues remain append-only across sessions.
type AnswerRecord struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	QuestionIndex int       `json:"question_index"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	CreatedAt     time.Time `json:"created_at"`
}

// Mantra is the generated terminal artifact of a completed dialogue.
// Immutable after creation.
type Mantra struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Text         string    `json:"text"`
	StepIndex    int       `json:"step_index"`
	TopicContext string    `json:"topic_context"`
	CreatedAt    time.Time `json:"created_at"`
}

// Reminder schedules a follow-up message after a mantra was produced.
// Only the delivery dispatcher flips Sent.
type Reminder struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	MantraID string    `json:"mantra_id"`
	RemindAt time.Time `json:"remind_at"`
	Sent     bool      `json:"sent"`
}

// IncomingMessage is one inbound user turn, either text or a voice payload.
type IncomingMessage struct {
	UserID   string `json:"user_id"`
	Text     string `json:"text,omitempty"`
	Audio    []byte `json:"audio,omitempty"`
	Language string `json:"language,omitempty"`
	Time     int64  `json:"time"`
}

// HasAudio reports whether the turn carries a voice payload.
func (m *IncomingMessage) HasAudio() bool {
	return len(m.Audio) > 0
}

// Validate performs validation on an incoming message.
func (m *IncomingMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Text == "" && !m.HasAudio() {
		return errors.New("message must carry text or audio")
	}
	if len(m.Text) > MaxAnswerLength {
		return ErrAnswerTooLong
	}
	return nil
}

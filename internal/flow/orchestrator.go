package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mantrakit/mantrakit/internal/models"
	"github.com/mantrakit/mantrakit/internal/store"
)

// DefaultQuestionLimit is the number of questions per dialogue when none is
// configured.
const DefaultQuestionLimit = 5

// DefaultGenerationTimeout bounds one next-question generation call.
const DefaultGenerationTimeout = 45 * time.Second

// DefaultFallbackQuestions is the scripted question list used when generation
// fails. Ordered; entry k backs the question following the k-th answer.
var DefaultFallbackQuestions = []string{
	"What is troubling you right now?",
	"When did you first notice this feeling?",
	"What does this situation say about what matters to you?",
	"What would change for you if this were resolved?",
	"What is one small step you could take toward that?",
	"What strength of yours could help you here?",
}

// Config holds the orchestrator's dialogue parameters, fixed at construction.
// Changing the question limit mid-dialogue is not supported.
type Config struct {
	QuestionLimit     int
	FallbackQuestions []string
	GenerationTimeout time.Duration
}

// Orchestrator is the per-user dialogue state machine. For a given user all
// turns are serialized; turns for different users proceed concurrently.
type Orchestrator struct {
	sessions  SessionManager
	questions QuestionProvider
	store     store.Store
	cfg       Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator creates an orchestrator with its collaborators.
func NewOrchestrator(sessions SessionManager, questions QuestionProvider, st store.Store, cfg Config) (*Orchestrator, error) {
	if cfg.QuestionLimit == 0 {
		cfg.QuestionLimit = DefaultQuestionLimit
	}
	if cfg.QuestionLimit < models.MinQuestionLimit {
		return nil, fmt.Errorf("question limit must be at least %d, got %d", models.MinQuestionLimit, cfg.QuestionLimit)
	}
	if cfg.FallbackQuestions == nil {
		cfg.FallbackQuestions = DefaultFallbackQuestions
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	slog.Debug("Orchestrator created", "questionLimit", cfg.QuestionLimit, "fallbackQuestions", len(cfg.FallbackQuestions))
	return &Orchestrator{
		sessions:  sessions,
		questions: questions,
		store:     st,
		cfg:       cfg,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// userLock returns the serialization lock for a user. Entries are never
// evicted, not even by Archive: a lock may be held or awaited across the
// archive of the session it guards, so the map grows with the number of
// distinct users seen by this process.
func (o *Orchestrator) userLock(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[userID] = l
	}
	return l
}

// StartDialogue creates a fresh session awaiting its first answer. An empty
// opening question falls back to the first scripted question. Any previous
// session for the user is replaced.
func (o *Orchestrator) StartDialogue(ctx context.Context, userID, openingQuestion string) (*models.Session, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	lock := o.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if openingQuestion == "" && len(o.cfg.FallbackQuestions) > 0 {
		openingQuestion = o.cfg.FallbackQuestions[0]
	}
	if openingQuestion == "" {
		return nil, fmt.Errorf("opening question cannot be empty")
	}

	sess := models.NewSession(userID, openingQuestion)
	if err := o.sessions.Save(ctx, *sess); err != nil {
		slog.Error("StartDialogue save failed", "error", err, "userID", userID)
		return sess, err
	}
	slog.Info("Dialogue started", "userID", userID, "sessionID", sess.ID)
	return sess, nil
}

// Session returns the user's current session, or models.ErrSessionNotFound.
func (o *Orchestrator) Session(ctx context.Context, userID string) (*models.Session, error) {
	sess, err := o.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}
	return sess, nil
}

// SubmitAnswer records one answer against the current question and advances
// the state machine.
//
// The accepted answer is persisted before returning (at-least-once; the write
// is idempotent per question index). A failing durable write does not undo
// the turn: the advanced session is returned together with a persistence
// error. When the question limit is reached, or generation fails with the
// scripted list exhausted, the returned session is DONE and the caller is
// responsible for invoking the mantra generation hand-off.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, userID, answerText string) (*models.Session, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	answerText = strings.TrimSpace(answerText)
	if answerText == "" {
		return nil, models.ErrEmptyAnswer
	}
	if len(answerText) > models.MaxAnswerLength {
		return nil, models.ErrAnswerTooLong
	}

	lock := o.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}
	if sess.State != models.SessionStateAwaitingAnswer {
		slog.Warn("SubmitAnswer rejected for terminal session", "userID", userID, "state", sess.State)
		return nil, models.ErrInvalidState
	}

	answered := sess.CurrentQuestion
	sess.DialogHistory = append(sess.DialogHistory, models.QA{Question: answered, Answer: answerText})
	sess.QuestionCount = len(sess.DialogHistory)
	sess.UpdatedAt = time.Now()

	// Durable answer record first; a failed write is reported but never
	// discards the turn.
	var persistErr error
	rec := models.AnswerRecord{
		SessionID:     sess.ID,
		UserID:        userID,
		QuestionIndex: sess.QuestionCount - 1,
		Question:      answered,
		Answer:        answerText,
		CreatedAt:     sess.UpdatedAt,
	}
	if err := o.store.AppendAnswer(rec); err != nil {
		slog.Error("SubmitAnswer answer persistence failed", "error", err, "userID", userID, "index", rec.QuestionIndex)
		persistErr = fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	if sess.QuestionCount >= o.cfg.QuestionLimit {
		return o.finishTurn(ctx, sess, persistErr, true)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	next, genErr := o.questions.NextQuestion(genCtx, sess.SeedContext(), sess.DialogHistory)
	cancel()
	if genErr != nil {
		if fallback, ok := o.fallbackQuestion(sess.QuestionCount); ok {
			slog.Warn("SubmitAnswer using scripted fallback question", "userID", userID, "index", sess.QuestionCount, "error", genErr)
			next = fallback
		} else {
			slog.Warn("SubmitAnswer terminating dialogue, generation failed and scripted list exhausted", "userID", userID, "error", genErr)
			return o.finishTurn(ctx, sess, persistErr, false)
		}
	}

	sess.CurrentQuestion = next
	if err := o.sessions.Save(ctx, *sess); err != nil && persistErr == nil {
		persistErr = err
	}
	slog.Debug("SubmitAnswer advanced", "userID", userID, "questionCount", sess.QuestionCount)
	return sess, persistErr
}

// finishTurn transitions the session to DONE and persists the full history as
// one batch. limitReached distinguishes the normal completion from the
// generation-failure termination in logs only; the state transition is the
// same.
func (o *Orchestrator) finishTurn(ctx context.Context, sess *models.Session, persistErr error, limitReached bool) (*models.Session, error) {
	sess.State = models.SessionStateDone
	sess.UpdatedAt = time.Now()

	batch := make([]models.AnswerRecord, 0, len(sess.DialogHistory))
	for i, qa := range sess.DialogHistory {
		batch = append(batch, models.AnswerRecord{
			SessionID:     sess.ID,
			UserID:        sess.UserID,
			QuestionIndex: i,
			Question:      qa.Question,
			Answer:        qa.Answer,
			CreatedAt:     sess.UpdatedAt,
		})
	}
	if err := o.store.AppendAnswers(batch); err != nil {
		slog.Error("finishTurn batch persistence failed", "error", err, "userID", sess.UserID)
		if persistErr == nil {
			persistErr = fmt.Errorf("%w: %v", models.ErrPersistence, err)
		}
	}
	if err := o.sessions.Save(ctx, *sess); err != nil && persistErr == nil {
		persistErr = err
	}
	slog.Info("Dialogue completed", "userID", sess.UserID, "sessionID", sess.ID, "questionCount", sess.QuestionCount, "limitReached", limitReached)
	return sess, persistErr
}

// fallbackQuestion returns the scripted question backing the given index.
func (o *Orchestrator) fallbackQuestion(index int) (string, bool) {
	if index < len(o.cfg.FallbackQuestions) {
		return o.cfg.FallbackQuestions[index], true
	}
	return "", false
}

// Archive removes a terminated session after the artifact hand-off completed.
func (o *Orchestrator) Archive(ctx context.Context, userID string) error {
	lock := o.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if sess.State != models.SessionStateDone {
		return models.ErrInvalidState
	}
	return o.sessions.Delete(ctx, userID)
}

// IsPersistenceError reports whether err is a persistence failure that left
// the in-memory turn intact.
func IsPersistenceError(err error) bool {
	return errors.Is(err, models.ErrPersistence)
}

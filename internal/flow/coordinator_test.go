package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mantrakit/mantrakit/internal/models"
	"github.com/mantrakit/mantrakit/internal/store"
)

func newTestCoordinator(t *testing.T, questionClient, mantraClient *mockGenAI, limit int) (*Coordinator, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	orch, err := NewOrchestrator(NewStoreBasedSessionManager(st), NewQuestionGenerator(questionClient), st, Config{QuestionLimit: limit})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	coord := NewCoordinator(orch, NewMantraGenerator(mantraClient, "", ""), st, time.Hour)
	return coord, st
}

func runDialogue(t *testing.T, coord *Coordinator, userID string, answers ...string) *models.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := coord.StartDialogue(ctx, userID, "Q0"); err != nil {
		t.Fatalf("StartDialogue failed: %v", err)
	}
	var sess *models.Session
	var err error
	for _, a := range answers {
		sess, err = coord.SubmitAnswer(ctx, userID, a)
		if err != nil {
			t.Fatalf("SubmitAnswer(%q) failed: %v", a, err)
		}
	}
	return sess
}

func TestCompleteDialogue(t *testing.T) {
	mantraClient := &mockGenAI{outcomes: []mockOutcome{{text: "I trust my own pace."}}}
	coord, st := newTestCoordinator(t, &mockGenAI{}, mantraClient, 1)

	sess := runDialogue(t, coord, "u1", "A0")
	if sess.State != models.SessionStateDone {
		t.Fatalf("expected DONE session, got %s", sess.State)
	}

	mantra, err := coord.CompleteDialogue(context.Background(), sess)
	if err != nil {
		t.Fatalf("CompleteDialogue failed: %v", err)
	}
	if mantra.Text != "I trust my own pace." || mantra.StepIndex != 1 {
		t.Errorf("unexpected mantra: %+v", mantra)
	}
	if mantra.TopicContext == "" {
		t.Error("expected topic context from the dialogue history")
	}

	// Reminder scheduled one configured delay after creation.
	due, err := st.DueReminders(time.Now().Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("DueReminders failed: %v", err)
	}
	if len(due) != 1 || due[0].MantraID != mantra.ID {
		t.Fatalf("expected one reminder for the mantra, got %+v", due)
	}
	if got := due[0].RemindAt.Sub(mantra.CreatedAt); got != time.Hour {
		t.Errorf("expected reminder delay of 1h, got %v", got)
	}

	// Session archived after the hand-off.
	if _, err := coord.Session(context.Background(), "u1"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected session archived, got %v", err)
	}
}

func TestCompleteDialogue_StepIndexIncrements(t *testing.T) {
	mantraClient := &mockGenAI{outcomes: []mockOutcome{{text: "First."}, {text: "Second."}}}
	coord, _ := newTestCoordinator(t, &mockGenAI{}, mantraClient, 1)

	sess := runDialogue(t, coord, "u1", "A0")
	m1, err := coord.CompleteDialogue(context.Background(), sess)
	if err != nil {
		t.Fatalf("first CompleteDialogue failed: %v", err)
	}

	sess = runDialogue(t, coord, "u1", "B0")
	m2, err := coord.CompleteDialogue(context.Background(), sess)
	if err != nil {
		t.Fatalf("second CompleteDialogue failed: %v", err)
	}
	if m1.StepIndex != 1 || m2.StepIndex != 2 {
		t.Errorf("expected step indexes 1 and 2, got %d and %d", m1.StepIndex, m2.StepIndex)
	}
}

func TestCompleteDialogue_GenerationFailureKeepsHistory(t *testing.T) {
	mantraClient := &mockGenAI{outcomes: []mockOutcome{{err: errors.New("model down")}}}
	coord, st := newTestCoordinator(t, &mockGenAI{}, mantraClient, 1)

	sess := runDialogue(t, coord, "u1", "A0")
	_, err := coord.CompleteDialogue(context.Background(), sess)
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}

	// History remains persisted and the session stays DONE for a retry.
	answers, _ := st.GetAnswers("u1")
	if len(answers) != 1 {
		t.Errorf("expected persisted history, got %d answers", len(answers))
	}
	got, err := coord.Session(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if got.State != models.SessionStateDone {
		t.Errorf("expected session still DONE, got %s", got.State)
	}
	mantras, _ := st.GetMantras("u1")
	if len(mantras) != 0 {
		t.Errorf("expected no mantra saved on failure, got %d", len(mantras))
	}
}

func TestCompleteDialogue_RejectsActiveSession(t *testing.T) {
	coord, _ := newTestCoordinator(t, &mockGenAI{}, &mockGenAI{}, 2)
	ctx := context.Background()
	sess, err := coord.StartDialogue(ctx, "u1", "Q0")
	if err != nil {
		t.Fatalf("StartDialogue failed: %v", err)
	}
	if _, err := coord.CompleteDialogue(ctx, sess); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

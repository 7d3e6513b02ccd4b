package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mantrakit/mantrakit/internal/models"
)

// mockGenAI implements genai.ClientInterface with canned outcomes per call.
type mockGenAI struct {
	calls      int
	outcomes   []mockOutcome
	lastSystem string
	lastUser   string
}

type mockOutcome struct {
	text string
	err  error
}

func (m *mockGenAI) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.lastSystem = systemPrompt
	m.lastUser = userPrompt
	idx := m.calls
	m.calls++
	if idx < len(m.outcomes) {
		return m.outcomes[idx].text, m.outcomes[idx].err
	}
	return "", errors.New("unexpected call")
}

func TestNextQuestion_Success(t *testing.T) {
	client := &mockGenAI{outcomes: []mockOutcome{{text: "  What makes you say that?  "}}}
	gen := NewQuestionGenerator(client)

	history := []models.QA{{Question: "Q0", Answer: "I feel stuck"}}
	q, err := gen.NextQuestion(context.Background(), "I feel stuck", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != "What makes you say that?" {
		t.Errorf("expected trimmed question, got %q", q)
	}
	if client.calls != 1 {
		t.Errorf("expected exactly one generation call, got %d", client.calls)
	}
	if !strings.Contains(client.lastUser, "I feel stuck") {
		t.Error("prompt must embed the seed context")
	}
	if !strings.Contains(client.lastUser, "Question 1: Q0") || !strings.Contains(client.lastUser, "Answer 1: I feel stuck") {
		t.Errorf("prompt must embed the serialized history, got %q", client.lastUser)
	}
}

func TestNextQuestion_RetriesOnce(t *testing.T) {
	client := &mockGenAI{outcomes: []mockOutcome{
		{err: errors.New("transient")},
		{text: "Recovered question?"},
	}}
	gen := NewQuestionGenerator(client)
	q, err := gen.NextQuestion(context.Background(), "seed", nil)
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if q != "Recovered question?" {
		t.Errorf("unexpected question: %q", q)
	}
	if client.calls != 2 {
		t.Errorf("expected 2 calls (one retry), got %d", client.calls)
	}
}

func TestNextQuestion_SecondFailureSurfaces(t *testing.T) {
	client := &mockGenAI{outcomes: []mockOutcome{
		{err: errors.New("boom")},
		{err: errors.New("boom again")},
	}}
	gen := NewQuestionGenerator(client)
	_, err := gen.NextQuestion(context.Background(), "seed", nil)
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	if client.calls != 2 {
		t.Errorf("expected exactly 2 calls, never more, got %d", client.calls)
	}
}

func TestNextQuestion_NoRetryAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &mockGenAI{outcomes: []mockOutcome{{err: context.Canceled}}}
	gen := NewQuestionGenerator(client)
	cancel()
	_, err := gen.NextQuestion(ctx, "seed", nil)
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	if client.calls != 1 {
		t.Errorf("expected no retry on cancelled context, got %d calls", client.calls)
	}
}

func TestNextQuestion_EmptyResultIsFailure(t *testing.T) {
	client := &mockGenAI{outcomes: []mockOutcome{{text: "   "}}}
	gen := NewQuestionGenerator(client)
	_, err := gen.NextQuestion(context.Background(), "seed", nil)
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed for blank question, got %v", err)
	}
}

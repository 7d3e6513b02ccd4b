package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mantrakit/mantrakit/internal/models"
)

func TestMantraGenerate_Success(t *testing.T) {
	client := &mockGenAI{outcomes: []mockOutcome{{text: "\n I am enough. \n"}}}
	gen := NewMantraGenerator(client, "PREFIX\n", "\nSUFFIX")

	history := []models.QA{
		{Question: "Q0", Answer: "A0"},
		{Question: "Q1", Answer: "A1"},
	}
	text, err := gen.Generate(context.Background(), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "I am enough." {
		t.Errorf("expected trimmed mantra, got %q", text)
	}
	// Prompt is prefix + joined answers + suffix; questions stay out of it.
	if client.lastUser != "PREFIX\nA0\nA1\nSUFFIX" {
		t.Errorf("unexpected prompt: %q", client.lastUser)
	}
	if client.calls != 1 {
		t.Errorf("expected a single generation request, got %d", client.calls)
	}
}

func TestMantraGenerate_DefaultTemplate(t *testing.T) {
	client := &mockGenAI{outcomes: []mockOutcome{{text: "I am calm."}}}
	gen := NewMantraGenerator(client, "", "")
	if _, err := gen.Generate(context.Background(), []models.QA{{Question: "Q", Answer: "A"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(client.lastUser, DefaultMantraPrefix) || !strings.HasSuffix(client.lastUser, DefaultMantraSuffix) {
		t.Error("expected default prompt template")
	}
}

func TestMantraGenerate_FailureIsDistinguishable(t *testing.T) {
	client := &mockGenAI{outcomes: []mockOutcome{{err: errors.New("model overloaded")}}}
	gen := NewMantraGenerator(client, "", "")
	_, err := gen.Generate(context.Background(), []models.QA{{Question: "Q", Answer: "A"}})
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestMantraGenerate_EmptyHistoryRejected(t *testing.T) {
	gen := NewMantraGenerator(&mockGenAI{}, "", "")
	_, err := gen.Generate(context.Background(), nil)
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
}

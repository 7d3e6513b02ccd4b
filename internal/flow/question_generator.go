package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mantrakit/mantrakit/internal/genai"
	"github.com/mantrakit/mantrakit/internal/models"
)

// questionSystemPrompt frames the generator as a self-reflection guide.
const questionSystemPrompt = "You are a helpful assistant guiding psychological self-reflection. " +
	"You ask short, open Socratic questions that build on what the person has already shared."

// QuestionProvider produces the next question from the seed context and the
// full ordered dialogue history. Two calls with identical history may return
// different questions.
type QuestionProvider interface {
	NextQuestion(ctx context.Context, seedContext string, history []models.QA) (string, error)
}

// QuestionGenerator implements QuestionProvider with one text-generation call
// per turn, retrying internally at most once.
type QuestionGenerator struct {
	client genai.ClientInterface
}

// NewQuestionGenerator creates a generator on top of a GenAI client.
func NewQuestionGenerator(client genai.ClientInterface) *QuestionGenerator {
	return &QuestionGenerator{client: client}
}

// NextQuestion builds one prompt embedding the seed context and the serialized
// transcript, issues the generation request and trims the result. A second
// consecutive failure surfaces to the orchestrator's fallback path.
func (g *QuestionGenerator) NextQuestion(ctx context.Context, seedContext string, history []models.QA) (string, error) {
	prompt := buildQuestionPrompt(seedContext, history)

	text, err := g.client.Generate(ctx, questionSystemPrompt, prompt)
	if err != nil && ctx.Err() == nil {
		slog.Warn("Question generation failed, retrying once", "error", err, "turns", len(history))
		text, err = g.client.Generate(ctx, questionSystemPrompt, prompt)
	}
	if err != nil {
		slog.Error("Question generation failed", "error", err, "turns", len(history))
		return "", fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
	}

	question := strings.TrimSpace(text)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", models.ErrGenerationFailed)
	}
	slog.Debug("Question generated", "turns", len(history), "length", len(question))
	return question, nil
}

// buildQuestionPrompt serializes the seed and the entire ordered history;
// every generated question is conditioned on cumulative context.
func buildQuestionPrompt(seedContext string, history []models.QA) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The person's initial request: %s\n", seedContext)
	b.WriteString("Dialogue so far:\n")
	for i, qa := range history {
		fmt.Fprintf(&b, "Question %d: %s\nAnswer %d: %s\n", i+1, qa.Question, i+1, qa.Answer)
	}
	b.WriteString("Formulate the next Socratic question for the person. Reply with the question only, no explanations.")
	return b.String()
}

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mantrakit/mantrakit/internal/genai"
	"github.com/mantrakit/mantrakit/internal/models"
)

// mantraSystemPrompt frames the generator as a mantra author.
const mantraSystemPrompt = "You are an expert at crafting personal mantras that help people transform their state of mind."

// DefaultMantraPrefix opens the artifact prompt when no template is configured.
const DefaultMantraPrefix = "Based on the person's answers to Socratic self-reflection questions below, " +
	"create a powerful, deeply personal mantra. The mantra must be short (one or two sentences), " +
	"positive, written in the first person and in the present tense.\n\nAnswers:\n"

// DefaultMantraSuffix closes the artifact prompt when no template is configured.
const DefaultMantraSuffix = "\n\nReply with the mantra text only, no explanations."

// MantraGenerator builds the terminal artifact from a completed dialogue.
type MantraGenerator struct {
	client genai.ClientInterface
	prefix string
	suffix string
}

// NewMantraGenerator creates a generator with the configured prompt template.
// Empty prefix or suffix fall back to the defaults.
func NewMantraGenerator(client genai.ClientInterface, prefix, suffix string) *MantraGenerator {
	if prefix == "" {
		prefix = DefaultMantraPrefix
	}
	if suffix == "" {
		suffix = DefaultMantraSuffix
	}
	return &MantraGenerator{client: client, prefix: prefix, suffix: suffix}
}

// Generate builds one prompt as prefix + joined answers + suffix, issues a
// single generation request and trims the result. Failures come back wrapped
// in models.ErrGenerationFailed so callers can distinguish them without
// losing the persisted dialogue history.
func (g *MantraGenerator) Generate(ctx context.Context, history []models.QA) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("%w: empty dialogue history", models.ErrGenerationFailed)
	}

	answers := make([]string, 0, len(history))
	for _, qa := range history {
		answers = append(answers, qa.Answer)
	}
	prompt := g.prefix + strings.Join(answers, "\n") + g.suffix

	text, err := g.client.Generate(ctx, mantraSystemPrompt, prompt)
	if err != nil {
		slog.Error("Mantra generation failed", "error", err, "answers", len(answers))
		return "", fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
	}
	mantra := strings.TrimSpace(text)
	if mantra == "" {
		return "", fmt.Errorf("%w: empty mantra", models.ErrGenerationFailed)
	}
	slog.Debug("Mantra generated", "answers", len(answers), "length", len(mantra))
	return mantra, nil
}

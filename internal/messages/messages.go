// Package messages provides the user-facing message catalog.
//
// The catalog is constructed explicitly, optionally overlaid from a JSON
// file, and immutable after Load. Unknown keys fall back to compiled-in
// defaults so the dialogue never goes silent over a missing entry.
package messages

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Catalog keys used by the dialogue flow.
const (
	KeyWelcome          = "welcome_message"
	KeyIntro            = "socratic_intro"
	KeyInitialQuestion  = "socratic_initial_question"
	KeyQuestionHeader   = "question_header"
	KeyCompletion       = "completion_message"
	KeyFinal            = "final_message"
	KeyVoiceError       = "socratic_error_voice"
	KeyProcessingError  = "socratic_error_processing"
	KeyVoiceRecognized  = "socratic_voice_recognized"
	KeyMantraHeader     = "mantra_header"
	KeyMantraError      = "mantra_error"
	KeyReminderMessage  = "reminder_message"
	KeyUnknownInput     = "unknown_input"
)

// defaults carries the compiled-in catalog.
var defaults = map[string]string{
	KeyWelcome:         "Welcome! Send \"start\" whenever you want to begin a reflection session.",
	KeyIntro:           "Let's explore what is on your mind. I will ask a few questions; answer in text or voice.",
	KeyInitialQuestion: "What is troubling you right now?",
	KeyQuestionHeader:  "Question %d:",
	KeyCompletion:      "Thank you. That completes our dialogue.",
	KeyFinal:           "Give me a moment to distill your answers into a personal mantra.",
	KeyVoiceError:      "I could not make out that voice message. Please try again or type your answer.",
	KeyProcessingError: "Something went wrong processing your answer. Please try again.",
	KeyVoiceRecognized: "Your message:",
	KeyMantraHeader:    "Here is your personal mantra:",
	KeyMantraError:     "I could not create your mantra right now. Your answers are saved; please try again later.",
	KeyReminderMessage: "A gentle reminder of your mantra:",
	KeyUnknownInput:    "Send \"start\" to begin a reflection session.",
}

// Catalog is an immutable message lookup.
type Catalog struct {
	entries map[string]string
}

// NewCatalog creates a catalog holding only the compiled-in defaults.
func NewCatalog() *Catalog {
	return &Catalog{entries: defaults}
}

// Load builds a catalog from the defaults overlaid with entries from the
// given JSON file (an object of key -> text). An empty path yields defaults.
func Load(path string) (*Catalog, error) {
	entries := make(map[string]string, len(defaults))
	for k, v := range defaults {
		entries[k] = v
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Catalog file read failed", "error", err, "path", path)
			return nil, fmt.Errorf("failed to read message catalog %s: %w", path, err)
		}
		var overlay map[string]string
		if err := json.Unmarshal(data, &overlay); err != nil {
			slog.Error("Catalog file parse failed", "error", err, "path", path)
			return nil, fmt.Errorf("failed to parse message catalog %s: %w", path, err)
		}
		for k, v := range overlay {
			if v != "" {
				entries[k] = v
			}
		}
		slog.Info("Message catalog loaded", "path", path, "overrides", len(overlay), "total", len(entries))
	}
	return &Catalog{entries: entries}, nil
}

// Get returns the text for the key, falling back to the compiled-in default
// and finally to an empty string.
func (c *Catalog) Get(key string) string {
	if v, ok := c.entries[key]; ok {
		return v
	}
	if v, ok := defaults[key]; ok {
		return v
	}
	slog.Warn("Catalog key missing", "key", key)
	return ""
}

// QuestionHeader formats the numbered question prefix.
func (c *Catalog) QuestionHeader(n int) string {
	return fmt.Sprintf(c.Get(KeyQuestionHeader), n)
}

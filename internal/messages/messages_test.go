package messages

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCatalogDefaults(t *testing.T) {
	c := NewCatalog()
	if c.Get(KeyInitialQuestion) == "" {
		t.Error("expected default initial question")
	}
	if c.Get("no_such_key") != "" {
		t.Error("expected empty string for unknown key")
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	content := `{"socratic_intro": "Давайте исследуем ваше состояние.", "empty_ignored": ""}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := c.Get(KeyIntro); got != "Давайте исследуем ваше состояние." {
		t.Errorf("expected overlay value, got %q", got)
	}
	// Untouched keys keep defaults.
	if c.Get(KeyCompletion) == "" {
		t.Error("expected default for non-overlaid key")
	}
	// Empty overlay values must not blank out defaults.
	if c.Get("empty_ignored") != "" {
		t.Error("expected empty unknown key to stay empty")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/messages.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Get(KeyWelcome) == "" {
		t.Error("expected defaults for empty path")
	}
}

func TestQuestionHeader(t *testing.T) {
	c := NewCatalog()
	if got := c.QuestionHeader(3); got != "Question 3:" {
		t.Errorf("expected 'Question 3:', got %q", got)
	}
}

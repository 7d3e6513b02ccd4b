// Package messaging defines the delivery abstraction for dialogue turns and
// the handler that routes inbound turns through the reflection flow.
package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/mantrakit/mantrakit/internal/models"
)

// ErrInvalidRecipient indicates a recipient identifier that no channel can deliver to.
var ErrInvalidRecipient = errors.New("invalid recipient")

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and provides a channel of incoming user turns.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. This allows each channel to implement its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming user turns.
	Responses() <-chan models.IncomingMessage
}

// CanonicalizeUserID applies the default recipient rules shared by in-process
// channels: trimmed, non-empty, no interior whitespace.
func CanonicalizeUserID(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", ErrInvalidRecipient
	}
	if strings.ContainsAny(canonical, " \t\n") {
		return "", ErrInvalidRecipient
	}
	return canonical, nil
}

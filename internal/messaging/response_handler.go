package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mantrakit/mantrakit/internal/flow"
	"github.com/mantrakit/mantrakit/internal/messages"
	"github.com/mantrakit/mantrakit/internal/models"
	"github.com/mantrakit/mantrakit/internal/transcribe"
)

// DialogueFlow is the slice of the reflection flow the handler drives.
type DialogueFlow interface {
	StartDialogue(ctx context.Context, userID, openingQuestion string) (*models.Session, error)
	Session(ctx context.Context, userID string) (*models.Session, error)
	SubmitAnswer(ctx context.Context, userID, answerText string) (*models.Session, error)
	CompleteDialogue(ctx context.Context, sess *models.Session) (*models.Mantra, error)
}

// Transcriber converts a voice payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (string, error)
}

// ResponseHandler consumes inbound turns from a messaging service and routes
// them through the dialogue flow, replying via the same service.
type ResponseHandler struct {
	svc         Service
	dialogue    DialogueFlow
	transcriber Transcriber
	catalog     *messages.Catalog
}

// NewResponseHandler creates a handler. transcriber may be nil when no speech
// backend is configured; voice turns then get the voice error reply.
func NewResponseHandler(svc Service, dialogue DialogueFlow, transcriber Transcriber, catalog *messages.Catalog) *ResponseHandler {
	if catalog == nil {
		catalog = messages.NewCatalog()
	}
	return &ResponseHandler{
		svc:         svc,
		dialogue:    dialogue,
		transcriber: transcriber,
		catalog:     catalog,
	}
}

// Start begins processing turns from the messaging service.
// This should be called once to start the processing loop.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting turn processing")

	go func() {
		defer slog.Info("ResponseHandler stopped turn processing")

		for {
			select {
			case msg, ok := <-rh.svc.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.ProcessTurn(ctx, msg); err != nil {
					slog.Error("ResponseHandler failed to process turn", "error", err, "user_id", msg.UserID)
				}
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}

// ProcessTurn routes one inbound user turn. Transcription failures and flow
// rejections are reported back to the user and do not surface as errors here;
// only delivery and internal failures do.
func (rh *ResponseHandler) ProcessTurn(ctx context.Context, msg models.IncomingMessage) error {
	userID, err := rh.svc.ValidateAndCanonicalizeRecipient(msg.UserID)
	if err != nil {
		slog.Error("ResponseHandler turn validation failed", "error", err, "user_id", msg.UserID)
		return fmt.Errorf("invalid sender: %w", err)
	}

	text := strings.TrimSpace(msg.Text)
	if msg.HasAudio() {
		text, err = rh.resolveVoice(ctx, userID, &msg)
		if err != nil {
			return err
		}
		if text == "" {
			// Reported to the user already; the pending question stays as is.
			return nil
		}
	}

	if isStartCommand(text) {
		return rh.startDialogue(ctx, userID)
	}

	sess, err := rh.dialogue.Session(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		slog.Error("ResponseHandler session lookup failed", "error", err, "user_id", userID)
		rh.reply(ctx, userID, rh.catalog.Get(messages.KeyProcessingError))
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if sess == nil {
		rh.reply(ctx, userID, rh.catalog.Get(messages.KeyUnknownInput))
		return nil
	}

	return rh.submitAnswer(ctx, userID, text)
}

// resolveVoice transcribes a voice payload. A failure replies with the voice
// error text and returns an empty transcript; the dialogue is left untouched.
func (rh *ResponseHandler) resolveVoice(ctx context.Context, userID string, msg *models.IncomingMessage) (string, error) {
	if rh.transcriber == nil {
		slog.Warn("ResponseHandler received voice turn without a transcriber", "user_id", userID)
		rh.reply(ctx, userID, rh.catalog.Get(messages.KeyVoiceError))
		return "", nil
	}

	transcript, err := rh.transcriber.Transcribe(ctx, msg.Audio, msg.Language)
	if err != nil {
		slog.Error("ResponseHandler transcription failed", "error", err, "user_id", userID,
			"unrecognized", errors.Is(err, transcribe.ErrUnrecognizedSpeech),
			"unavailable", errors.Is(err, transcribe.ErrServiceUnavailable))
		rh.reply(ctx, userID, rh.catalog.Get(messages.KeyVoiceError))
		return "", nil
	}

	// Echo the recognized text so the user can verify what was heard.
	rh.reply(ctx, userID, rh.catalog.Get(messages.KeyVoiceRecognized)+"\n"+transcript)
	return transcript, nil
}

func (rh *ResponseHandler) startDialogue(ctx context.Context, userID string) error {
	sess, err := rh.dialogue.StartDialogue(ctx, userID, rh.catalog.Get(messages.KeyInitialQuestion))
	if sess == nil || (err != nil && !flow.IsPersistenceError(err)) {
		slog.Error("ResponseHandler dialogue start failed", "error", err, "user_id", userID)
		rh.reply(ctx, userID, rh.catalog.Get(messages.KeyProcessingError))
		if err == nil {
			err = errors.New("no session returned")
		}
		return fmt.Errorf("failed to start dialogue: %w", err)
	}

	rh.reply(ctx, userID, rh.catalog.Get(messages.KeyWelcome))
	rh.reply(ctx, userID, rh.catalog.Get(messages.KeyIntro))
	rh.reply(ctx, userID, rh.catalog.QuestionHeader(sess.QuestionCount+1)+" "+sess.CurrentQuestion)
	slog.Info("ResponseHandler dialogue started", "user_id", userID, "session_id", sess.ID)
	return nil
}

func (rh *ResponseHandler) submitAnswer(ctx context.Context, userID, text string) error {
	sess, err := rh.dialogue.SubmitAnswer(ctx, userID, text)
	if err != nil {
		switch {
		case flow.IsPersistenceError(err):
			// The turn advanced in memory; carry on and let the user continue.
			// No session at all means the load itself failed, not the write.
			slog.Error("ResponseHandler answer persisted with errors", "error", err, "user_id", userID)
			if sess == nil {
				rh.reply(ctx, userID, rh.catalog.Get(messages.KeyProcessingError))
				return fmt.Errorf("failed to load session: %w", err)
			}
		case errors.Is(err, models.ErrEmptyAnswer), errors.Is(err, models.ErrAnswerTooLong):
			rh.reply(ctx, userID, rh.catalog.Get(messages.KeyProcessingError))
			return nil
		case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrSessionNotFound):
			rh.reply(ctx, userID, rh.catalog.Get(messages.KeyUnknownInput))
			return nil
		default:
			slog.Error("ResponseHandler answer submission failed", "error", err, "user_id", userID)
			rh.reply(ctx, userID, rh.catalog.Get(messages.KeyProcessingError))
			return fmt.Errorf("failed to submit answer: %w", err)
		}
	}

	if sess.State == models.SessionStateDone {
		return rh.finishDialogue(ctx, userID, sess)
	}

	rh.reply(ctx, userID, rh.catalog.QuestionHeader(sess.QuestionCount+1)+" "+sess.CurrentQuestion)
	return nil
}

// finishDialogue closes out a completed session: completion texts, mantra
// generation and delivery. A generation failure keeps the saved answers and
// tells the user to retry later.
func (rh *ResponseHandler) finishDialogue(ctx context.Context, userID string, sess *models.Session) error {
	rh.reply(ctx, userID, rh.catalog.Get(messages.KeyCompletion))
	rh.reply(ctx, userID, rh.catalog.Get(messages.KeyFinal))

	mantra, err := rh.dialogue.CompleteDialogue(ctx, sess)
	if err != nil {
		slog.Error("ResponseHandler mantra delivery failed", "error", err, "user_id", userID, "session_id", sess.ID)
		rh.reply(ctx, userID, rh.catalog.Get(messages.KeyMantraError))
		return nil
	}

	rh.reply(ctx, userID, rh.catalog.Get(messages.KeyMantraHeader)+"\n"+mantra.Text)
	slog.Info("ResponseHandler dialogue completed", "user_id", userID, "mantra_id", mantra.ID, "step_index", mantra.StepIndex)
	return nil
}

// reply sends best effort; delivery failures are logged and never interrupt routing.
func (rh *ResponseHandler) reply(ctx context.Context, userID, body string) {
	if body == "" {
		return
	}
	if err := rh.svc.SendMessage(ctx, userID, body); err != nil {
		slog.Error("ResponseHandler failed to send reply", "error", err, "user_id", userID)
	}
}

func isStartCommand(text string) bool {
	return text == "/start" || strings.EqualFold(text, "start")
}

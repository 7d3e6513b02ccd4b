// Package transcribe converts voice payloads to text.
//
// The pipeline is: codec conversion (OGG/Opus container to WAV PCM via an
// external ffmpeg process) followed by a speech-recognition service call.
// Each failure mode is reported distinctly and never coerced into empty text.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Failure modes of the transcription pipeline, each independently reported.
var (
	// ErrEmptyInput indicates zero-duration or empty audio.
	ErrEmptyInput = errors.New("audio input is empty")
	// ErrConversion indicates the codec conversion to WAV failed.
	ErrConversion = errors.New("audio conversion failed")
	// ErrUnrecognizedSpeech indicates the recognizer produced no confident transcript.
	ErrUnrecognizedSpeech = errors.New("speech not recognized")
	// ErrServiceUnavailable indicates the recognizer backend is unreachable or rate-limited.
	ErrServiceUnavailable = errors.New("recognition service unavailable")
)

// DefaultTimeout bounds one full transcription round trip.
const DefaultTimeout = 60 * time.Second

// DefaultLanguage is the language hint used when the caller supplies none.
const DefaultLanguage = "en-US"

// Converter converts an audio blob into WAV PCM suitable for recognition.
type Converter interface {
	ToWAV(ctx context.Context, audio []byte) ([]byte, error)
}

// Recognizer turns a WAV waveform into text.
type Recognizer interface {
	Recognize(ctx context.Context, wav []byte, language string) (string, error)
}

// Opts holds configuration for the transcription adapter.
type Opts struct {
	Converter  Converter
	Recognizer Recognizer
	Language   string
	Timeout    time.Duration
}

// Option defines a configuration option for the transcription adapter.
type Option func(*Opts)

// WithConverter overrides the default ffmpeg converter.
func WithConverter(c Converter) Option {
	return func(o *Opts) { o.Converter = c }
}

// WithRecognizer sets the speech recognizer backend.
func WithRecognizer(r Recognizer) Option {
	return func(o *Opts) { o.Recognizer = r }
}

// WithLanguage sets the default language hint.
func WithLanguage(lang string) Option {
	return func(o *Opts) { o.Language = lang }
}

// WithTimeout bounds one transcription round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Adapter normalizes voice payloads to text.
type Adapter struct {
	converter  Converter
	recognizer Recognizer
	language   string
	timeout    time.Duration
}

// NewAdapter creates a transcription adapter. A recognizer is required; the
// converter defaults to the ffmpeg-based implementation.
func NewAdapter(opts ...Option) (*Adapter, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer not configured")
	}
	if cfg.Converter == nil {
		cfg.Converter = NewFFmpegConverter()
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("Transcription adapter created", "language", cfg.Language, "timeout", cfg.Timeout)
	return &Adapter{
		converter:  cfg.Converter,
		recognizer: cfg.Recognizer,
		language:   cfg.Language,
		timeout:    cfg.Timeout,
	}, nil
}

// Transcribe converts an audio blob to text using the optional language hint.
// On any failure the caller's session state must remain untouched; the error
// wraps one of the sentinel failure modes above.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, languageHint string) (string, error) {
	if len(audio) == 0 {
		slog.Debug("Transcribe rejected empty input")
		return "", ErrEmptyInput
	}

	lang := languageHint
	if lang == "" {
		lang = a.language
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	wav, err := a.converter.ToWAV(ctx, audio)
	if err != nil {
		slog.Error("Transcribe conversion failed", "error", err, "input_bytes", len(audio))
		return "", fmt.Errorf("%w: %v", ErrConversion, err)
	}

	text, err := a.recognizer.Recognize(ctx, wav, lang)
	if err != nil {
		slog.Error("Transcribe recognition failed", "error", err, "language", lang)
		return "", err
	}
	slog.Debug("Transcribe succeeded", "language", lang, "length", len(text))
	return text, nil
}

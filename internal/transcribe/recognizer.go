package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// HTTPRecognizer calls an external speech-recognition HTTP service. The
// service accepts a WAV body and returns a JSON transcript.
type HTTPRecognizer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPRecognizer creates a recognizer client for the given endpoint.
func NewHTTPRecognizer(baseURL, apiKey string) (*HTTPRecognizer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("recognizer base URL not set")
	}
	return &HTTPRecognizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}, nil
}

// recognitionResponse is the service's JSON reply.
type recognitionResponse struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Recognize posts the waveform and maps service outcomes onto the adapter's
// sentinel errors: transport failures and 429/5xx become ErrServiceUnavailable,
// an empty transcript becomes ErrUnrecognizedSpeech.
func (r *HTTPRecognizer) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	endpoint := r.baseURL + "/v1/recognize?lang=" + url.QueryEscape(language)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("build recognition request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		slog.Error("HTTPRecognizer request failed", "error", err, "language", language)
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		slog.Error("HTTPRecognizer service unavailable", "status", resp.StatusCode)
		return "", fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Error("HTTPRecognizer unexpected status", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("recognition request rejected: status %d", resp.StatusCode)
	}

	var result recognitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode recognition response: %w", err)
	}
	text := strings.TrimSpace(result.Transcript)
	if text == "" {
		slog.Debug("HTTPRecognizer produced no transcript", "language", language)
		return "", ErrUnrecognizedSpeech
	}
	slog.Debug("HTTPRecognizer succeeded", "language", language, "confidence", result.Confidence)
	return text, nil
}

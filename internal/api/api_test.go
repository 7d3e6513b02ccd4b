package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mantrakit/mantrakit/internal/messaging"
	"github.com/mantrakit/mantrakit/internal/models"
	"github.com/mantrakit/mantrakit/internal/store"
)

func newTestServer(t *testing.T) (*Server, *messaging.ChannelService, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	ch := messaging.NewChannelService()
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("channel start failed: %v", err)
	}
	t.Cleanup(func() { ch.Stop() })
	return NewServer("127.0.0.1:0", ch, st), ch, st
}

func postJSON(t *testing.T, handler http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusOK) {
		t.Errorf("unexpected status: %+v", resp)
	}
}

func TestIntake_TextTurnIsQueued(t *testing.T) {
	srv, ch, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/v1/messages", map[string]interface{}{
		"user_id": "u1",
		"text":    "my answer",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusRecorded) {
		t.Errorf("unexpected status: %+v", resp)
	}

	select {
	case msg := <-ch.Responses():
		if msg.UserID != "u1" || msg.Text != "my answer" {
			t.Errorf("unexpected queued turn: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("turn never reached the channel")
	}
}

func TestIntake_VoiceTurnCarriesDecodedAudio(t *testing.T) {
	srv, ch, _ := newTestServer(t)

	audio := []byte{0x4f, 0x67, 0x67, 0x53}
	rec := postJSON(t, srv.Handler(), "/v1/messages", map[string]interface{}{
		"user_id":  "u1",
		"audio":    base64.StdEncoding.EncodeToString(audio),
		"language": "en-US",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case msg := <-ch.Responses():
		if !bytes.Equal(msg.Audio, audio) {
			t.Errorf("audio not decoded, got %v", msg.Audio)
		}
		if msg.Language != "en-US" {
			t.Errorf("language hint lost, got %q", msg.Language)
		}
	case <-time.After(time.Second):
		t.Fatal("turn never reached the channel")
	}
}

func TestIntake_RejectsInvalidTurns(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	cases := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"missing user", map[string]interface{}{"text": "hello"}},
		{"empty turn", map[string]interface{}{"user_id": "u1"}},
	}
	for _, tc := range cases {
		rec := postJSON(t, handler, "/v1/messages", tc.payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rec.Code)
		}
		if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusError) {
			t.Errorf("%s: unexpected status: %+v", tc.name, resp)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestIntake_StoppedChannelIsUnavailable(t *testing.T) {
	srv, ch, _ := newTestServer(t)
	ch.Stop()

	rec := postJSON(t, srv.Handler(), "/v1/messages", map[string]interface{}{
		"user_id": "u1",
		"text":    "hello",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestOutbox_DrainsQueuedReplies(t *testing.T) {
	srv, ch, _ := newTestServer(t)
	handler := srv.Handler()

	for _, body := range []string{"Question 1: What is troubling you?", "Question 2: Why?"} {
		if err := ch.SendMessage(context.Background(), "u1", body); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/outbox/u1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status string                      `json:"status"`
		Result []messaging.OutgoingMessage `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Result) != 2 {
		t.Fatalf("expected 2 queued replies, got %d", len(resp.Result))
	}
	if resp.Result[0].Body != "Question 1: What is troubling you?" || resp.Result[1].Body != "Question 2: Why?" {
		t.Errorf("replies out of order: %+v", resp.Result)
	}

	// A second poll finds the outbox drained.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/outbox/u1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"result":[]`)) {
		t.Errorf("expected an empty outbox, got %s", rec.Body.String())
	}
}

func TestOutbox_RejectsInvalidUser(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/outbox/%20%20", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMantras_ReturnsStoredMantras(t *testing.T) {
	srv, _, st := newTestServer(t)
	handler := srv.Handler()

	for i := 1; i <= 2; i++ {
		m := models.Mantra{
			ID:        "m" + string(rune('0'+i)),
			UserID:    "u1",
			Text:      "mantra text",
			StepIndex: i,
			CreatedAt: time.Now(),
		}
		if err := st.SaveMantra(m); err != nil {
			t.Fatalf("SaveMantra failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/mantras/u1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status string          `json:"status"`
		Result []models.Mantra `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Result) != 2 {
		t.Fatalf("expected 2 mantras, got %d", len(resp.Result))
	}
	if resp.Result[0].StepIndex != 1 || resp.Result[1].StepIndex != 2 {
		t.Errorf("mantras out of order: %+v", resp.Result)
	}
}

func TestMantras_UnknownUserIsEmptyList(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/mantras/nobody", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"result":[]`)) {
		t.Errorf("expected an empty list, got %s", rec.Body.String())
	}
}

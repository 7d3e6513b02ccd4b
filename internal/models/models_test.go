package models

import (
	"testing"
)

func TestNewSession(t *testing.T) {
	s := NewSession("u1", "What troubles you?")
	if s.State != SessionStateAwaitingAnswer {
		t.Errorf("expected state %s, got %s", SessionStateAwaitingAnswer, s.State)
	}
	if s.QuestionCount != 0 {
		t.Errorf("expected question count 0, got %d", s.QuestionCount)
	}
	if len(s.DialogHistory) != 0 {
		t.Errorf("expected empty history, got %d entries", len(s.DialogHistory))
	}
	if s.CurrentQuestion != "What troubles you?" {
		t.Errorf("unexpected current question: %q", s.CurrentQuestion)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("fresh session should validate, got %v", err)
	}
}

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Session)
		wantErr bool
	}{
		{name: "valid fresh session", mutate: func(s *Session) {}, wantErr: false},
		{name: "empty user id", mutate: func(s *Session) { s.UserID = "" }, wantErr: true},
		{name: "count mismatch", mutate: func(s *Session) { s.QuestionCount = 2 }, wantErr: true},
		{name: "empty question while awaiting", mutate: func(s *Session) { s.CurrentQuestion = "" }, wantErr: true},
		{name: "empty question when done", mutate: func(s *Session) {
			s.State = SessionStateDone
			s.CurrentQuestion = ""
		}, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("u1", "Q0")
			tt.mutate(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionSeedContextAndAnswers(t *testing.T) {
	s := NewSession("u1", "Q0")
	if s.SeedContext() != "" {
		t.Errorf("expected empty seed for fresh session, got %q", s.SeedContext())
	}
	s.DialogHistory = append(s.DialogHistory, QA{Question: "Q0", Answer: "A0"}, QA{Question: "Q1", Answer: "A1"})
	s.QuestionCount = 2
	if s.SeedContext() != "A0" {
		t.Errorf("expected seed A0, got %q", s.SeedContext())
	}
	answers := s.Answers()
	if len(answers) != 2 || answers[0] != "A0" || answers[1] != "A1" {
		t.Errorf("unexpected answers: %v", answers)
	}
}

func TestSessionTranscript(t *testing.T) {
	s := NewSession("u1", "Q0")
	s.DialogHistory = append(s.DialogHistory, QA{Question: "Q0", Answer: "A0"})
	s.QuestionCount = 1
	want := "Question 1: Q0\nAnswer 1: A0\n"
	if got := s.Transcript(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestIsValidSessionState(t *testing.T) {
	if !IsValidSessionState(SessionStateAwaitingAnswer) || !IsValidSessionState(SessionStateDone) {
		t.Error("expected defined states to be valid")
	}
	if IsValidSessionState("PAUSED") {
		t.Error("expected unknown state to be invalid")
	}
}

func TestIncomingMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     IncomingMessage
		wantErr bool
	}{
		{name: "text message", msg: IncomingMessage{UserID: "u1", Text: "hello"}, wantErr: false},
		{name: "voice message", msg: IncomingMessage{UserID: "u1", Audio: []byte{1, 2, 3}}, wantErr: false},
		{name: "missing user", msg: IncomingMessage{Text: "hello"}, wantErr: true},
		{name: "empty payload", msg: IncomingMessage{UserID: "u1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

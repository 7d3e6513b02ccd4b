package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mantrakit/mantrakit/internal/models"
)

// DefaultChannelBuffer is the queue depth for the inbound turn channel.
const DefaultChannelBuffer = 64

// MaxOutboxDepth caps queued deliveries per recipient. When a recipient never
// polls, the oldest messages are dropped first.
const MaxOutboxDepth = 256

// OutgoingMessage is one message delivered through the in-process channel.
type OutgoingMessage struct {
	To   string    `json:"to"`
	Body string    `json:"body"`
	Time time.Time `json:"time"`
}

// ChannelService is an in-process Service implementation. Inbound turns are
// enqueued by the API layer and consumed by the ResponseHandler; outbound
// messages accumulate in a per-recipient outbox until collected, so sending
// never blocks the handler.
type ChannelService struct {
	inbound chan models.IncomingMessage

	mu      sync.Mutex
	outbox  map[string][]OutgoingMessage
	started bool
	stopped bool
}

// NewChannelService creates an in-process channel with default buffering.
func NewChannelService() *ChannelService {
	return &ChannelService{
		inbound: make(chan models.IncomingMessage, DefaultChannelBuffer),
		outbox:  make(map[string][]OutgoingMessage),
	}
}

// ValidateAndCanonicalizeRecipient applies the shared user ID rules.
func (s *ChannelService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeUserID(recipient)
}

// Start marks the channel ready for traffic.
func (s *ChannelService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("channel service already stopped")
	}
	s.started = true
	slog.Info("ChannelService started")
	return nil
}

// Stop closes the inbound channel so consumers drain and exit.
func (s *ChannelService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.started = false
	close(s.inbound)
	slog.Info("ChannelService stopped")
	return nil
}

// SendMessage queues an outbound message in the recipient's outbox. The write
// is non-blocking; a full outbox sheds its oldest entries.
func (s *ChannelService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("ChannelService send validation failed", "error", err, "to", to)
		return fmt.Errorf("failed to validate recipient: %w", err)
	}
	msg := OutgoingMessage{To: canonical, Body: body, Time: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	queue := append(s.outbox[canonical], msg)
	if dropped := len(queue) - MaxOutboxDepth; dropped > 0 {
		slog.Warn("ChannelService outbox overflow, dropping oldest", "to", canonical, "dropped", dropped)
		queue = queue[dropped:]
	}
	s.outbox[canonical] = queue
	slog.Debug("ChannelService queued message", "to", canonical, "body_length", len(body), "queued", len(queue))
	return nil
}

// CollectOutbox drains and returns the recipient's queued messages in send
// order. An empty outbox returns nil.
func (s *ChannelService) CollectOutbox(userID string) []OutgoingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.outbox[userID]
	if len(queue) == 0 {
		return nil
	}
	delete(s.outbox, userID)
	return queue
}

// Enqueue feeds one inbound user turn into the channel.
func (s *ChannelService) Enqueue(ctx context.Context, msg models.IncomingMessage) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return errors.New("channel service not running")
	}
	s.mu.Unlock()

	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}
	select {
	case s.inbound <- msg:
		slog.Debug("ChannelService enqueued response", "user_id", msg.UserID, "has_audio", msg.HasAudio())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Responses returns the channel of inbound user turns.
func (s *ChannelService) Responses() <-chan models.IncomingMessage {
	return s.inbound
}

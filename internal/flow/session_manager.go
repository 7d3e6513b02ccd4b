// Package flow implements the dialogue state machine and its generators.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mantrakit/mantrakit/internal/models"
	"github.com/mantrakit/mantrakit/internal/store"
)

// SessionManager provides access to per-user dialogue sessions.
type SessionManager interface {
	// Get retrieves the session for a user, or nil if none exists.
	Get(ctx context.Context, userID string) (*models.Session, error)
	// Save stores or updates a session.
	Save(ctx context.Context, s models.Session) error
	// Delete removes the session for a user.
	Delete(ctx context.Context, userID string) error
}

// StoreBasedSessionManager implements SessionManager using a Store backend
// with a write-through in-memory cache. The cache keeps a turn's result
// available even when the durable write was not acknowledged, trading strict
// durability for conversational continuity.
type StoreBasedSessionManager struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]models.Session
}

// NewStoreBasedSessionManager creates a SessionManager backed by a Store.
func NewStoreBasedSessionManager(st store.Store) *StoreBasedSessionManager {
	slog.Debug("Creating StoreBasedSessionManager")
	return &StoreBasedSessionManager{
		store: st,
		cache: make(map[string]models.Session),
	}
}

// Get retrieves the session for a user, preferring the cache.
func (sm *StoreBasedSessionManager) Get(ctx context.Context, userID string) (*models.Session, error) {
	sm.mu.RLock()
	cached, ok := sm.cache[userID]
	sm.mu.RUnlock()
	if ok {
		cp := cached
		cp.DialogHistory = append([]models.QA(nil), cached.DialogHistory...)
		return &cp, nil
	}

	sess, err := sm.store.GetSession(userID)
	if err != nil {
		slog.Error("SessionManager Get store error", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if sess == nil {
		return nil, nil
	}
	sm.mu.Lock()
	sm.cache[userID] = *sess
	sm.mu.Unlock()
	slog.Debug("SessionManager Get loaded from store", "userID", userID, "state", sess.State)
	return sess, nil
}

// Save writes the session to the cache and then to the store. A failing
// durable write returns a persistence error, but the cached session is
// already advanced so the answer is not lost from the user's perspective.
func (sm *StoreBasedSessionManager) Save(ctx context.Context, s models.Session) error {
	sm.mu.Lock()
	sm.cache[s.UserID] = s
	sm.mu.Unlock()

	if err := sm.store.SaveSession(s); err != nil {
		slog.Error("SessionManager Save store error", "error", err, "userID", s.UserID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	slog.Debug("SessionManager Save succeeded", "userID", s.UserID, "state", s.State, "questionCount", s.QuestionCount)
	return nil
}

// Delete removes the session from the cache and the store.
func (sm *StoreBasedSessionManager) Delete(ctx context.Context, userID string) error {
	sm.mu.Lock()
	delete(sm.cache, userID)
	sm.mu.Unlock()

	if err := sm.store.DeleteSession(userID); err != nil {
		slog.Error("SessionManager Delete store error", "error", err, "userID", userID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	slog.Debug("SessionManager Delete succeeded", "userID", userID)
	return nil
}

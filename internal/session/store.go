// Package session implements the SessionStore contract: an in-memory
// default with per-conversation-id mutual exclusion, and a Postgres
// backed alternative for durable deployments. Either satisfies
// adapters.SessionStore, so callers never depend on which is wired.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/domain"
)

// ErrNotFound is returned by Save when the state is nil or has no
// conversation id.
var ErrNotFound = errors.New("session: conversation not found")

// InMemoryStore is the default SessionStore: an in-process map guarded
// by one mutex per conversation id, so concurrent turns on the same id
// serialize (FIFO via Go's mutex wake order) while different sessions
// proceed independently.
type InMemoryStore struct {
	mapMu sync.Mutex
	locks map[string]*sync.Mutex
	data  map[string]*domain.ConversationState

	inactivityTimeout time.Duration
}

// NewInMemoryStore builds a store. inactivityTimeout is informational
// only here (it is used by a janitor the caller may run); it has no
// effect on GetOrCreate/WithLock semantics.
func NewInMemoryStore(inactivityTimeout time.Duration) *InMemoryStore {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &InMemoryStore{
		locks:             make(map[string]*sync.Mutex),
		data:              make(map[string]*domain.ConversationState),
		inactivityTimeout: inactivityTimeout,
	}
}

var _ adapters.SessionStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) lockFor(conversationID string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}

// GetOrCreate returns the existing state for conversationID, or creates
// a fresh ACTIVE one if none exists yet. It does not take the
// per-conversation lock — callers that need turn-level exclusivity use
// WithLock instead.
func (s *InMemoryStore) GetOrCreate(_ context.Context, conversationID string, lang domain.Language) (*domain.ConversationState, error) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	st, ok := s.data[conversationID]
	if !ok {
		st = domain.NewConversationState(conversationID, lang)
		s.data[conversationID] = st
	}
	return st.Clone(), nil
}

// Save persists the given state, overwriting any prior value.
func (s *InMemoryStore) Save(_ context.Context, state *domain.ConversationState) error {
	if state == nil || state.ConversationID == "" {
		return ErrNotFound
	}
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	s.data[state.ConversationID] = state.Clone()
	return nil
}

// WithLock serializes all turns for conversationID: it loads (creating
// if absent), runs fn under the per-id lock, and saves the mutated
// state back before releasing the lock. The state passed to fn is the
// live value — fn mutates it directly.
func (s *InMemoryStore) WithLock(ctx context.Context, conversationID string, fn func(*domain.ConversationState) (*domain.TurnResult, error)) (*domain.TurnResult, error) {
	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	s.mapMu.Lock()
	st, ok := s.data[conversationID]
	if !ok {
		st = domain.NewConversationState(conversationID, domain.LanguageEN)
		s.data[conversationID] = st
	}
	s.mapMu.Unlock()

	result, err := fn(st)
	if err != nil {
		return result, err
	}

	s.mapMu.Lock()
	s.data[conversationID] = st
	s.mapMu.Unlock()

	return result, nil
}

// ExpireInactive marks sessions idle past the store's inactivity
// timeout as COMPLETED, returning the ids it expired. Intended to be
// called from a periodic janitor goroutine; see StartJanitor.
func (s *InMemoryStore) ExpireInactive() []string {
	now := time.Now().UTC()
	var expired []string

	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	for id, st := range s.data {
		if st.Terminal() {
			continue
		}
		if now.Sub(st.LastActivity) < s.inactivityTimeout {
			continue
		}
		st.Status = domain.StatusCompleted
		st.LastActivity = now
		expired = append(expired, id)
	}
	return expired
}

// StartJanitor runs ExpireInactive on a ticker until ctx is canceled.
func (s *InMemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ExpireInactive()
			}
		}
	}()
}

// ActiveCount returns the number of non-terminal sessions.
func (s *InMemoryStore) ActiveCount() int {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	n := 0
	for _, st := range s.data {
		if !st.Terminal() {
			n++
		}
	}
	return n
}

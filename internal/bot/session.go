package bot

import (
	"sync"

	"github.com/orionagi/go-ai-gateway/internal/ai"
)

// Mode selects which pipeline free text is routed to.
type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

// userState is the in-memory per-user selection. It is deliberately not
// persisted: a restart resets everyone to text mode with the default model.
type userState struct {
	Mode  Mode
	Model ai.ModelSelector

	// LastEnhanced is the prompt the user's most recent image request
	// actually ran with; the regenerate callback reuses it.
	LastEnhanced string
}

// sessionStore holds per-user state behind a mutex.
type sessionStore struct {
	mu           sync.Mutex
	states       map[int64]*userState
	defaultModel ai.ModelSelector
}

func newSessionStore(defaultModel ai.ModelSelector) *sessionStore {
	return &sessionStore{
		states:       make(map[int64]*userState),
		defaultModel: defaultModel,
	}
}

// get returns a copy of the user's state, creating the default on first use.
func (s *sessionStore) get(userID int64) userState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.locked(userID)
}

func (s *sessionStore) locked(userID int64) *userState {
	st, ok := s.states[userID]
	if !ok {
		st = &userState{Mode: ModeText, Model: s.defaultModel}
		s.states[userID] = st
	}
	return st
}

func (s *sessionStore) setMode(userID int64, m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked(userID).Mode = m
}

func (s *sessionStore) setModel(userID int64, sel ai.ModelSelector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.locked(userID)
	st.Model = sel
	st.Mode = ModeText
}

func (s *sessionStore) setLastEnhanced(userID int64, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked(userID).LastEnhanced = prompt
}

// reset puts the user back on text mode with the default model.
func (s *sessionStore) reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.locked(userID)
	st.Mode = ModeText
	st.Model = s.defaultModel
}

// Package session tracks the live browser sessions bridged to the game
// server.
package session

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session tracks one connected browser and its game connection.
type Session struct {
	// ID is the unique session identifier.
	ID uuid.UUID
	// RemoteAddr is the browser's network address (for logging).
	RemoteAddr string
	// StartedAt is when the WebSocket was accepted.
	StartedAt time.Time

	mu        sync.Mutex
	character string
	lines     atomic.Int64
}

// New creates a session for the given remote address.
//
// Postcondition: Returns a session with a fresh ID and StartedAt set.
func New(remoteAddr string) *Session {
	return &Session{
		ID:         uuid.New(),
		RemoteAddr: remoteAddr,
		StartedAt:  time.Now(),
	}
}

// SetCharacter records the character name once it is detected in the
// game text. Safe for concurrent use.
func (s *Session) SetCharacter(name string) {
	s.mu.Lock()
	s.character = name
	s.mu.Unlock()
}

// Character returns the detected character name, or "" when unknown.
func (s *Session) Character() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.character
}

// AddLine increments the session's served line counter.
func (s *Session) AddLine() {
	s.lines.Add(1)
}

// Lines returns how many lines the session has served.
func (s *Session) Lines() int64 {
	return s.lines.Load()
}

// Info is a read-only snapshot of a session for the HTTP API.
type Info struct {
	ID         uuid.UUID `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Character  string    `json:"character,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Lines      int64     `json:"lines"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:         s.ID,
		RemoteAddr: s.RemoteAddr,
		Character:  s.Character(),
		StartedAt:  s.StartedAt,
		Lines:      s.Lines(),
	}
}

// Manager tracks all active sessions.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Add registers a session.
//
// Precondition: s must be non-nil with a non-zero ID.
// Postcondition: The session is tracked, or an error if the ID is already registered.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already registered", s.ID)
	}
	m.sessions[s.ID] = s
	return nil
}

// Remove drops a session from tracking.
//
// Postcondition: The session is removed. Returns an error if not found.
func (m *Manager) Remove(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; !exists {
		return fmt.Errorf("session %s not found", id)
	}
	delete(m.sessions, id)
	return nil
}

// Get returns the session for the given ID.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot returns the live sessions ordered by start time.
//
// Postcondition: Returns a slice of Info (may be empty, never nil).
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

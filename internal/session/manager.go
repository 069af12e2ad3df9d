package session

import (
	"context"
	"sync"

	"imagewatch/internal/domain"
)

// Manager keeps one session per signed-in account.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(d Deps) *Manager {
	return &Manager{deps: d, sessions: make(map[string]*Session)}
}

// Get returns the session for the account in ctx, opening it on first use.
func (m *Manager) Get(ctx context.Context) (*Session, error) {
	accountID, err := domain.AccountFrom(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[accountID]; ok {
		return s, nil
	}
	s, err := Open(ctx, accountID, m.deps)
	if err != nil {
		return nil, err
	}
	m.sessions[accountID] = s
	return s, nil
}

// SignOut tears down the account's session. It reports whether one existed.
func (m *Manager) SignOut(accountID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	delete(m.sessions, accountID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

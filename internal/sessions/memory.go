package sessions

import (
	"context"
	"sort"
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

const maxHistoryPerConversation = 1000

// MemoryStore is an in-process Store double for tests, grounded on the
// teacher's internal/sessions/memory.go: every read and write clones the
// stored record so callers can never mutate shared state through a
// returned pointer.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session      // sessionID -> session
	byUser   map[string]map[string]struct{} // userID -> set of sessionID
	history  map[string][]*models.Message   // conversationID -> messages
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		byUser:   make(map[string]map[string]struct{}),
		history:  make(map[string][]*models.Message),
	}
}

func (m *MemoryStore) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s.Clone()
	if m.byUser[s.UserID] == nil {
		m.byUser[s.UserID] = make(map[string]struct{})
	}
	m.byUser[s.UserID][s.SessionID] = struct{}{}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(m.sessions, sessionID)
	if set, ok := m.byUser[s.UserID]; ok {
		delete(set, sessionID)
	}
	return nil
}

func (m *MemoryStore) ActiveSessionIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		if s, ok := m.sessions[id]; ok && s.Status == models.StatusActive {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) AllSessionIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *msg
	hist := append(m.history[conversationID], &clone)
	if len(hist) > maxHistoryPerConversation {
		hist = hist[len(hist)-maxHistoryPerConversation:]
	}
	m.history[conversationID] = hist
	return nil
}

func (m *MemoryStore) GetHistory(_ context.Context, conversationID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.history[conversationID]
	if limit <= 0 || limit >= len(hist) {
		out := make([]*models.Message, len(hist))
		for i, msg := range hist {
			c := *msg
			out[i] = &c
		}
		return out, nil
	}
	start := len(hist) - limit
	out := make([]*models.Message, limit)
	for i, msg := range hist[start:] {
		c := *msg
		out[i] = &c
	}
	return out, nil
}

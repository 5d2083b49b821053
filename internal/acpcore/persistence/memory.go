package persistence

import (
	"context"
	"sync"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
)

type memKey struct {
	conversationID string
	agentID        string
}

// MemoryStore is an in-memory Store, used by tests and by embedding callers
// that maintain their own persisted configuration store and only want this
// package's resolution logic (see Store's doc comment).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[memKey]model.PersistedSessionData
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[memKey]model.PersistedSessionData)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, conversationID, agentID string) (*model.PersistedSessionData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[memKey{conversationID, agentID}]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

// PutWorkdir implements Store.
func (m *MemoryStore) PutWorkdir(_ context.Context, conversationID, agentID, workdir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{conversationID, agentID}
	rec := m.data[k]
	rec.ConversationID, rec.AgentID = conversationID, agentID
	rec.Workdir = workdir
	m.data[k] = rec
	return nil
}

// PutSessionID implements Store.
func (m *MemoryStore) PutSessionID(_ context.Context, conversationID, agentID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{conversationID, agentID}
	rec := m.data[k]
	rec.ConversationID, rec.AgentID = conversationID, agentID
	rec.SessionID = sessionID
	m.data[k] = rec
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Package persistence implements SessionPersistence: the durable
// {conversationId, agentId} -> {sessionId?, workdir?} map described in
// spec §4.1, plus workdir resolution.
package persistence

import (
	"context"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
)

// Store is the minimal durable-storage contract SessionPersistence needs.
// It is implemented by SQLiteStore for production use and by MemoryStore
// for tests and for embedding callers that bring their own persisted
// configuration store.
type Store interface {
	// Get returns the stored record, or nil (no error) if there is none.
	Get(ctx context.Context, conversationID, agentID string) (*model.PersistedSessionData, error)
	// PutWorkdir upserts the workdir for the pair. An empty workdir clears it.
	PutWorkdir(ctx context.Context, conversationID, agentID, workdir string) error
	// PutSessionID upserts the session id for the pair. An empty id clears it.
	PutSessionID(ctx context.Context, conversationID, agentID, sessionID string) error
	// Close releases any resources held by the store.
	Close() error
}

// Package session maintains the live conversationKey -> SessionRecord map
// and the ACP session/new, session/load, and teardown flows that populate
// and drain it.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/acperrors"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/persistence"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/process"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
)

// ProcessPool is the subset of process.Manager the SessionManager depends
// on, narrowed so tests can supply a fake.
type ProcessPool interface {
	GetConnection(ctx context.Context, agent model.AgentDefinition) (*process.ProcessHandle, error)
	Release(ctx context.Context, agentID string) error
	GetHealth(agentID string) model.ProcessHealth
}

// Manager maintains at most one live SessionRecord per conversationKey
// (spec §4.4's invariant), bridging SessionPersistence's durable bindings
// and a ProcessPool's live handles.
type Manager struct {
	processes   ProcessPool
	persistence *persistence.SessionPersistence
	logger      *logger.Logger

	mu      sync.Mutex
	records map[string]*model.SessionRecord
	handles map[string]*process.ProcessHandle
}

// NewManager builds a Manager. Callers should register NotifyProcessDeath
// with the ProcessManager's death hook so dependent records are swept when
// their process dies unexpectedly.
func NewManager(processes ProcessPool, sessionPersistence *persistence.SessionPersistence, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		processes:   processes,
		persistence: sessionPersistence,
		logger:      log.WithFields(zap.String("component", "session-manager")),
		records:     make(map[string]*model.SessionRecord),
		handles:     make(map[string]*process.ProcessHandle),
	}
}

// ConnectionFor returns the live ACP connection backing conversationKey's
// session, for the Provider to issue prompt and cancel RPCs on.
func (m *Manager) ConnectionFor(conversationKey string) (*acp.ClientSideConnection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[conversationKey]
	if !ok {
		return nil, false
	}
	return h.Connection(), true
}

// GetOrCreateSession returns the live SessionRecord for conversationKey,
// creating one (and its underlying ACP session) if none exists or if the
// existing record no longer matches (agentId, resolvedWorkdir). workdirOverride,
// when non-empty, takes precedence over any previously persisted workdir.
func (m *Manager) GetOrCreateSession(ctx context.Context, conversationKey string, agent model.AgentDefinition, callbacks model.SessionCallbacks, workdirOverride string) (*model.SessionRecord, error) {
	resolvedWorkdir, err := m.resolveWorkdir(ctx, conversationKey, agent.ID, workdirOverride)
	if err != nil {
		return nil, acperrors.SessionCreationFailed(conversationKey, err)
	}

	m.mu.Lock()
	if rec, ok := m.records[conversationKey]; ok {
		if rec.AgentID == agent.ID && rec.Workdir == resolvedWorkdir && m.processes.GetHealth(agent.ID) != model.ProcessDead {
			// Route the reused session's traffic to the new caller's callbacks.
			if handle := m.handles[conversationKey]; handle != nil {
				handle.RegisterSession(rec.SessionID, rec.Workdir, callbacks)
			}
			rec.Callbacks = callbacks
			m.mu.Unlock()
			return rec, nil
		}
		m.mu.Unlock()
		if err := m.ClearSession(ctx, conversationKey); err != nil {
			m.logger.WithError(err).Warn("failed to clear stale session before recreation",
				zap.String("conversation_key", conversationKey))
		}
	} else {
		m.mu.Unlock()
	}

	handle, err := m.processes.GetConnection(ctx, agent)
	if err != nil {
		return nil, err
	}

	sessionID, err := m.openACPSession(ctx, handle, conversationKey, agent.ID, resolvedWorkdir)
	if err != nil {
		_ = m.processes.Release(ctx, agent.ID)
		return nil, acperrors.SessionCreationFailed(conversationKey, err)
	}

	if err := m.persistence.UpdateSessionID(ctx, conversationKey, agent.ID, sessionID); err != nil {
		m.logger.WithError(err).Warn("failed to persist session id",
			zap.String("conversation_key", conversationKey))
	}

	handle.RegisterSession(sessionID, resolvedWorkdir, callbacks)

	rec := &model.SessionRecord{
		ConversationKey: conversationKey,
		AgentID:         agent.ID,
		SessionID:       sessionID,
		Workdir:         resolvedWorkdir,
		Callbacks:       callbacks,
		CreatedAt:       time.Now(),
	}

	m.mu.Lock()
	m.records[conversationKey] = rec
	m.handles[conversationKey] = handle
	m.mu.Unlock()

	return rec, nil
}

func (m *Manager) resolveWorkdir(ctx context.Context, conversationKey, agentID, override string) (string, error) {
	if override != "" {
		if err := m.persistence.UpdateWorkdir(ctx, conversationKey, agentID, override); err != nil {
			return "", err
		}
		return m.persistence.ResolveWorkdir(override)
	}
	return m.persistence.GetWorkdir(ctx, conversationKey, agentID)
}

// openACPSession issues session/load when a prior sessionId is on record
// and the agent advertises load support, falling back to session/new on
// any session/load failure or when neither condition holds.
func (m *Manager) openACPSession(ctx context.Context, handle *process.ProcessHandle, conversationKey, agentID, workdir string) (string, error) {
	conn := handle.Connection()

	if stored := m.persistence.GetSessionData(ctx, conversationKey, agentID); stored != nil && stored.SessionID != "" && handle.LoadSessionSupported() {
		if _, err := conn.LoadSession(ctx, acp.LoadSessionRequest{SessionId: acp.SessionId(stored.SessionID)}); err == nil {
			return stored.SessionID, nil
		}
		m.logger.Warn("session/load failed, falling back to session/new",
			zap.String("conversation_key", conversationKey), zap.String("session_id", stored.SessionID))
	}

	resp, err := conn.NewSession(ctx, acp.NewSessionRequest{Cwd: workdir, McpServers: []acp.McpServer{}})
	if err != nil {
		return "", fmt.Errorf("session/new: %w", err)
	}
	return string(resp.SessionId), nil
}

// ClearSession tears down conversationKey's session: it unregisters its
// callbacks from the owning process and releases the caller's reference to
// that process (the last reference triggers termination).
func (m *Manager) ClearSession(ctx context.Context, conversationKey string) error {
	m.mu.Lock()
	rec, ok := m.records[conversationKey]
	handle := m.handles[conversationKey]
	if ok {
		delete(m.records, conversationKey)
		delete(m.handles, conversationKey)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if handle != nil {
		handle.UnregisterSession(rec.SessionID)
	}
	return m.teardown(ctx, rec)
}

func (m *Manager) teardown(ctx context.Context, rec *model.SessionRecord) error {
	return m.processes.Release(ctx, rec.AgentID)
}

// ClearSessionsByAgent tears down every session bound to agentID, e.g.
// after a configuration change invalidates the agent definition.
func (m *Manager) ClearSessionsByAgent(ctx context.Context, agentID string) {
	for _, key := range m.keysForAgent(agentID) {
		if err := m.ClearSession(ctx, key); err != nil {
			m.logger.WithError(err).Warn("failed to clear session", zap.String("conversation_key", key))
		}
	}
}

// ClearAll tears down every live session, for the application-shutdown path.
func (m *Manager) ClearAll(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, key := range keys {
		if err := m.ClearSession(ctx, key); err != nil {
			m.logger.WithError(err).Warn("failed to clear session", zap.String("conversation_key", key))
		}
	}
}

// NotifyProcessDeath removes every SessionRecord bound to agentID in one
// atomic sweep, without attempting to release the already-dead process.
// Register this as the ProcessManager's death hook.
func (m *Manager) NotifyProcessDeath(agentID string, _ error) {
	m.mu.Lock()
	for key, rec := range m.records {
		if rec.AgentID == agentID {
			delete(m.records, key)
			delete(m.handles, key)
		}
	}
	m.mu.Unlock()
}

func (m *Manager) keysForAgent(agentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, rec := range m.records {
		if rec.AgentID == agentID {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetSession returns the live record for conversationKey, if any.
func (m *Manager) GetSession(conversationKey string) (*model.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[conversationKey]
	return rec, ok
}

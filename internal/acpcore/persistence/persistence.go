package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
)

type cacheKey struct {
	conversationID string
	agentID        string
}

// SessionPersistence maintains the durable {conversationId, agentId} ->
// {sessionId?, workdir?} map of spec §4.1, in front of a pluggable Store.
//
// Read errors from the store are treated as "missing" per spec; write
// errors are returned to the caller but never roll back the in-memory
// cache, so a transient store failure does not make the process forget
// what it just resolved.
type SessionPersistence struct {
	store         Store
	workspaceRoot string // resolved absolute path
	logger        *logger.Logger

	mu    sync.RWMutex
	cache map[cacheKey]model.PersistedSessionData
}

// New builds a SessionPersistence over store, defaulting undefaulted workdirs
// under workspaceRoot (a `~`-prefixed or relative path is resolved the same
// way a stored workdir would be).
func New(store Store, workspaceRoot string, log *logger.Logger) (*SessionPersistence, error) {
	if log == nil {
		log = logger.Default()
	}
	p := &SessionPersistence{
		store:  store,
		logger: log.WithFields(zap.String("component", "session-persistence")),
		cache:  make(map[cacheKey]model.PersistedSessionData),
	}
	root, err := p.ResolveWorkdir(workspaceRoot)
	if err != nil {
		return nil, err
	}
	p.workspaceRoot = root
	return p, nil
}

// GetSessionData returns the stored record for (conversationID, agentID), or
// nil if there is none. Store read errors are treated as "missing".
func (p *SessionPersistence) GetSessionData(ctx context.Context, conversationID, agentID string) *model.PersistedSessionData {
	k := cacheKey{conversationID, agentID}

	p.mu.RLock()
	if rec, ok := p.cache[k]; ok {
		p.mu.RUnlock()
		cp := rec
		return &cp
	}
	p.mu.RUnlock()

	rec, err := p.store.Get(ctx, conversationID, agentID)
	if err != nil {
		p.logger.WithError(err).Warn("session data read failed, treating as missing",
			zap.String("conversation_id", conversationID), zap.String("agent_id", agentID))
		return nil
	}
	if rec == nil {
		return nil
	}

	p.mu.Lock()
	p.cache[k] = *rec
	p.mu.Unlock()

	cp := *rec
	return &cp
}

// GetWorkdir returns the resolved absolute workdir for the pair, generating
// and storing a deterministic per-conversation default under workspaceRoot
// if none is stored yet.
func (p *SessionPersistence) GetWorkdir(ctx context.Context, conversationID, agentID string) (string, error) {
	if rec := p.GetSessionData(ctx, conversationID, agentID); rec != nil && rec.Workdir != "" {
		return p.ResolveWorkdir(rec.Workdir)
	}

	def := filepath.Join(p.workspaceRoot, conversationID)
	if err := p.UpdateWorkdir(ctx, conversationID, agentID, def); err != nil {
		p.logger.WithError(err).Warn("failed to persist default workdir",
			zap.String("conversation_id", conversationID), zap.String("agent_id", agentID))
	}
	return p.ResolveWorkdir(def)
}

// UpdateWorkdir stores workdir for the pair, trimmed; an empty string clears
// the stored value. The in-memory cache is updated before the write is
// attempted, so write failures are surfaced without discarding the update.
func (p *SessionPersistence) UpdateWorkdir(ctx context.Context, conversationID, agentID, workdir string) error {
	workdir = strings.TrimSpace(workdir)

	k := cacheKey{conversationID, agentID}
	p.mu.Lock()
	rec := p.cache[k]
	rec.ConversationID, rec.AgentID = conversationID, agentID
	rec.Workdir = workdir
	p.cache[k] = rec
	p.mu.Unlock()

	return p.store.PutWorkdir(ctx, conversationID, agentID, workdir)
}

// UpdateSessionID stores the ACP-assigned session id for the pair; an empty
// string clears it.
func (p *SessionPersistence) UpdateSessionID(ctx context.Context, conversationID, agentID, sessionID string) error {
	k := cacheKey{conversationID, agentID}
	p.mu.Lock()
	rec := p.cache[k]
	rec.ConversationID, rec.AgentID = conversationID, agentID
	rec.SessionID = sessionID
	p.cache[k] = rec
	p.mu.Unlock()

	return p.store.PutSessionID(ctx, conversationID, agentID, sessionID)
}

// ResolveWorkdir canonicalizes a stored workdir value into a stable absolute
// path: empty resolves to the workspace root, `~/...` resolves home-relative,
// relative paths resolve against the workspace root, and absolute paths are
// left as-is (symlinks are resolved throughout so repeated calls are
// idempotent: ResolveWorkdir(ResolveWorkdir(x)) == ResolveWorkdir(x)).
func (p *SessionPersistence) ResolveWorkdir(stored string) (string, error) {
	stored = strings.TrimSpace(stored)

	var candidate string
	switch {
	case stored == "":
		candidate = p.workspaceRoot
		if candidate == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			candidate = home
		}
	case strings.HasPrefix(stored, "~"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		candidate = filepath.Join(home, strings.TrimPrefix(stored, "~"))
	case filepath.IsAbs(stored):
		candidate = stored
	default:
		base := p.workspaceRoot
		if base == "" {
			var err error
			base, err = os.Getwd()
			if err != nil {
				return "", err
			}
		}
		candidate = filepath.Join(base, stored)
	}

	candidate = filepath.Clean(candidate)
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		return resolved, nil
	}
	// Path does not exist yet (common for a freshly-defaulted conversation
	// workdir that has not been created on disk): fall back to the cleaned,
	// still-absolute candidate, which is itself a fixed point of this
	// function since EvalSymlinks on a non-existent path always errors the
	// same way.
	return candidate, nil
}

// Close releases the underlying store.
func (p *SessionPersistence) Close() error {
	return p.store.Close()
}

// Package process owns the pool of live agent subprocesses: spawning them
// on demand, speaking the ACP handshake over their stdio, and routing
// per-session traffic to whichever SessionRecords are bound to them.
package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/acperrors"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/tracing"
)

const tracerName = "deepchat-acp-core/process"

const (
	clientName = "deepchat-acp-core"
	// clientVersion is the protocol client identity advertised during the
	// initialize handshake; it tracks this module's own releases, not the
	// ACP protocol version.
	clientVersion = "0.1.0"
)

// Manager owns every ProcessHandle, keyed by agentId. At most one process
// exists per agentId at any time (spec §4.2's process map invariant); at
// most one spawn is in flight per agentId, collapsed with singleflight.
type Manager struct {
	logger           *logger.Logger
	handshakeTimeout time.Duration
	terminationGrace time.Duration
	stderrBufferCap  int

	mu       sync.RWMutex
	handles  map[string]*ProcessHandle
	spawning singleflight.Group

	// onDeath is invoked whenever a process exits, including an exit caused
	// by Release, so the SessionManager can invalidate dependent
	// SessionRecords. It is wired by the caller that owns both managers (the
	// acpprovider.New composition root).
	onDeath func(agentID string, err error)
}

// NewManager builds a Manager. handshakeTimeout bounds the initialize
// exchange; terminationGrace bounds how long release() waits after a
// graceful signal before force-killing; stderrBufferCap bounds the
// diagnostic ring buffer kept per process.
func NewManager(log *logger.Logger, handshakeTimeout, terminationGrace time.Duration, stderrBufferCap int) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		logger:           log.WithFields(zap.String("component", "process-manager")),
		handshakeTimeout: handshakeTimeout,
		terminationGrace: terminationGrace,
		stderrBufferCap:  stderrBufferCap,
		handles:          make(map[string]*ProcessHandle),
	}
}

// OnDeath registers the callback invoked when a spawned process exits for
// any reason, a deliberate Release included.
func (m *Manager) OnDeath(fn func(agentID string, err error)) {
	m.onDeath = fn
}

// GetConnection returns a ready ProcessHandle for agent, spawning and
// handshaking one if none is cached. The returned handle's refcount is
// incremented on the caller's behalf; pair every successful call with a
// matching Release.
func (m *Manager) GetConnection(ctx context.Context, agent model.AgentDefinition) (*ProcessHandle, error) {
	m.mu.RLock()
	if h, ok := m.handles[agent.ID]; ok && h.Health() != model.ProcessDead {
		h.acquire()
		m.mu.RUnlock()
		return h, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.spawning.Do(agent.ID, func() (any, error) {
		m.mu.RLock()
		if h, ok := m.handles[agent.ID]; ok && h.Health() != model.ProcessDead {
			m.mu.RUnlock()
			return h, nil
		}
		m.mu.RUnlock()

		h, err := m.spawn(ctx, agent)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.handles[agent.ID] = h
		m.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}

	h := v.(*ProcessHandle)
	h.acquire()
	return h, nil
}

// Release drops the caller's reference to agentId's process. When the
// refcount reaches zero the process is sent a graceful termination signal
// and, after the configured grace period, force-killed. All SessionRecords
// bound to the handle must be cleared by the caller before calling Release;
// the Manager does not traverse them itself (spec §4.2).
func (m *Manager) Release(ctx context.Context, agentID string) error {
	m.mu.RLock()
	h, ok := m.handles[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	if !h.releaseRef() {
		return nil
	}

	m.mu.Lock()
	if cur, ok := m.handles[agentID]; ok && cur == h {
		delete(m.handles, agentID)
	}
	m.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, m.terminationGrace)
	defer cancel()
	return h.stop(stopCtx)
}

// GetHealth reports agentId's process lifecycle state, or ProcessDead if no
// handle is cached.
func (m *Manager) GetHealth(agentID string) model.ProcessHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[agentID]
	if !ok {
		return model.ProcessDead
	}
	return h.Health()
}

func (m *Manager) spawn(ctx context.Context, agent model.AgentDefinition) (*ProcessHandle, error) {
	log := m.logger.WithFields(zap.String("agent_id", agent.ID), zap.String("command", agent.Command))
	h := newProcessHandle(agent.ID, log, m.stderrBufferCap)
	h.onDeath = m.onDeath

	cmd := exec.Command(agent.Command, agent.Args...)
	cmd.Env = layerEnv(os.Environ(), agent.Env)
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, acperrors.SpawnFailed(agent.ID, fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, acperrors.SpawnFailed(agent.ID, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, acperrors.SpawnFailed(agent.ID, fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, acperrors.SpawnFailed(agent.ID, err)
	}

	h.cmd = cmd
	h.stdin = stdin
	h.stdout = stdout
	h.stderr = stderr

	h.wg.Add(2)
	go h.readStderr()
	go h.waitForExit()

	conn := acp.NewClientSideConnection(h.dispatcher, stdin, stdout)
	h.conn = conn

	handshakeCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	handshakeCtx, span := tracing.Tracer(tracerName).Start(handshakeCtx, "acp.initialize",
		trace.WithAttributes(attribute.String("agent_id", agent.ID)))
	resp, err := conn.Initialize(handshakeCtx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo:      &acp.Implementation{Name: clientName, Version: clientVersion},
	})
	span.End()
	if err != nil {
		log.Warn("handshake failed, killing process", zap.Error(err), zap.Strings("recent_stderr", h.recentStderr()))
		m.killAfterFailedHandshake(h)
		return nil, acperrors.HandshakeFailed(agent.ID, err)
	}

	h.loadSessionSupported = resp.AgentCapabilities.LoadSession
	h.setHealth(model.ProcessReady)
	log.Info("agent process ready", zap.Any("agent_capabilities", resp.AgentCapabilities))
	return h, nil
}

func (m *Manager) killAfterFailedHandshake(h *ProcessHandle) {
	if h.cmd.Process != nil {
		_ = killProcessGroup(h.cmd.Process.Pid)
	}
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
	}
}

// layerEnv returns base with overrides applied on top, "KEY=VALUE" per
// entry. base is never mutated.
func layerEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return append([]string(nil), base...)
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := kv
		if idx := indexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if _, override := overrides[key]; override {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

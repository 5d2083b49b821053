package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"
	"sync/atomic"

	acp "github.com/coder/acp-go-sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
)

// stderrBufferSize bounds the diagnostic ring buffer kept per process when no
// explicit config value is supplied.
const stderrBufferSize = 50

var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// errorWrapper lets an error (possibly nil) live in an atomic.Value, which
// cannot store a bare nil interface.
type errorWrapper struct{ err error }

// ProcessHandle is one live agent subprocess: its pipes, its ACP connection,
// and the dispatcher routing notifications to whichever sessions are
// currently registered against it. A handle outlives any single session —
// it is shared by refcount across every SessionRecord bound to its agentId,
// per spec §4.2.
type ProcessHandle struct {
	agentID string
	// instanceID disambiguates this handle from any earlier or later handle
	// for the same agentID across respawns, in logs and diagnostics.
	instanceID string
	logger     *logger.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	conn       *acp.ClientSideConnection
	dispatcher *dispatcher

	// loadSessionSupported reflects the agent's advertised capability from
	// the initialize handshake response.
	loadSessionSupported bool

	health  atomic.Value // model.ProcessHealth
	exitErr atomic.Value // errorWrapper

	stderrMu        sync.RWMutex
	stderrBuffer    []string
	stderrBufferCap int

	mu       sync.Mutex
	refCount int

	doneCh chan struct{}
	wg     sync.WaitGroup

	// onDeath is invoked exactly once, off the reader goroutine, when the
	// subprocess exits for any reason (including a deliberate release()).
	onDeath func(agentID string, err error)
}

func newProcessHandle(agentID string, log *logger.Logger, stderrBufferCap int) *ProcessHandle {
	if stderrBufferCap <= 0 {
		stderrBufferCap = stderrBufferSize
	}
	instanceID := uuid.New().String()
	h := &ProcessHandle{
		agentID:         agentID,
		instanceID:      instanceID,
		logger:          log.WithFields(zap.String("agent_id", agentID), zap.String("process_instance_id", instanceID)),
		stderrBufferCap: stderrBufferCap,
		doneCh:          make(chan struct{}),
	}
	h.health.Store(model.ProcessStarting)
	h.exitErr.Store(errorWrapper{})
	h.dispatcher = newDispatcher(h.logger)
	return h
}

// Health reports the handle's current lifecycle state.
func (h *ProcessHandle) Health() model.ProcessHealth {
	return h.health.Load().(model.ProcessHealth)
}

func (h *ProcessHandle) setHealth(s model.ProcessHealth) {
	h.health.Store(s)
}

// ExitErr returns the error the process exited with, if it has exited and
// did so abnormally.
func (h *ProcessHandle) ExitErr() error {
	return h.exitErr.Load().(errorWrapper).err
}

// Done is closed once the subprocess has exited and cleanup has run.
func (h *ProcessHandle) Done() <-chan struct{} {
	return h.doneCh
}

// Connection returns the underlying ACP connection for issuing RPCs.
func (h *ProcessHandle) Connection() *acp.ClientSideConnection {
	return h.conn
}

// AgentID returns the handle's agentId.
func (h *ProcessHandle) AgentID() string {
	return h.agentID
}

// LoadSessionSupported reports whether the agent advertised session/load
// support in its initialize response.
func (h *ProcessHandle) LoadSessionSupported() bool {
	return h.loadSessionSupported
}

// RegisterSession binds sessionID's traffic to cb for the lifetime of the
// session, scoping ReadTextFile/WriteTextFile RPCs to workdir.
func (h *ProcessHandle) RegisterSession(sessionID, workdir string, cb model.SessionCallbacks) {
	h.dispatcher.register(sessionID, workdir, cb)
}

// UnregisterSession stops routing sessionID's traffic; subsequent
// notifications for it are logged and dropped.
func (h *ProcessHandle) UnregisterSession(sessionID string) {
	h.dispatcher.unregister(sessionID)
}

// acquire increments the handle's refcount. Called by the owning
// ProcessManager for every handle GetConnection returns.
func (h *ProcessHandle) acquire() {
	h.mu.Lock()
	h.refCount++
	h.mu.Unlock()
}

// releaseRef decrements the refcount and reports whether it reached zero.
func (h *ProcessHandle) releaseRef() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refCount > 0 {
		h.refCount--
	}
	return h.refCount == 0
}

func (h *ProcessHandle) refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refCount
}

// recentStderr returns a copy of the buffered stderr tail, logged alongside
// handshake failures and abnormal process exits.
func (h *ProcessHandle) recentStderr() []string {
	h.stderrMu.RLock()
	defer h.stderrMu.RUnlock()
	out := make([]string, len(h.stderrBuffer))
	copy(out, h.stderrBuffer)
	return out
}

func (h *ProcessHandle) appendStderr(line string) {
	h.stderrMu.Lock()
	defer h.stderrMu.Unlock()
	clean := stripANSI(line)
	if len(h.stderrBuffer) >= h.stderrBufferCap {
		h.stderrBuffer = h.stderrBuffer[1:]
	}
	h.stderrBuffer = append(h.stderrBuffer, clean)
}

func (h *ProcessHandle) readStderr() {
	defer h.wg.Done()
	scanner := bufio.NewScanner(h.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.appendStderr(scanner.Text())
	}
}

func (h *ProcessHandle) waitForExit() {
	defer h.wg.Done()
	err := h.cmd.Wait()
	h.setHealth(model.ProcessDead)
	h.exitErr.Store(errorWrapper{err: err})
	if err != nil {
		h.logger.Warn("agent process exited", zap.Error(err), zap.Strings("recent_stderr", h.recentStderr()))
	} else {
		h.logger.Info("agent process exited")
	}
	if h.onDeath != nil {
		h.onDeath(h.agentID, err)
	}
	close(h.doneCh)
}

// stop asks the process to terminate, waiting up to grace before sending
// SIGKILL to the whole process group. It always closes stdin first so a
// well-behaved agent sees EOF and can exit on its own.
func (h *ProcessHandle) stop(ctx context.Context) error {
	if h.stdin != nil {
		_ = h.stdin.Close()
	}
	if h.cmd.Process != nil {
		if err := terminateProcessGroup(h.cmd.Process.Pid); err != nil {
			h.logger.Debug("graceful terminate failed", zap.Error(err))
		}
	}

	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
	}

	if h.cmd.Process != nil {
		if err := killProcessGroup(h.cmd.Process.Pid); err != nil {
			return fmt.Errorf("force kill process group for agent %q: %w", h.agentID, err)
		}
	}
	<-h.doneCh
	return nil
}

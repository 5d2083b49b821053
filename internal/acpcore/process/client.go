package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
)

// sessionBinding is what the dispatcher needs to route one live session's
// traffic: its callbacks and the workdir its file RPCs are scoped to.
type sessionBinding struct {
	callbacks model.SessionCallbacks
	workdir   string
}

// dispatcher implements acp.Client for one agent's subprocess. A single
// process may host multiple live sessions (one per conversation bound to
// this agent); notifications and permission requests are routed to the
// owning session's callbacks by the sessionId carried on the wire.
type dispatcher struct {
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]sessionBinding
}

var _ acp.Client = (*dispatcher)(nil)

func newDispatcher(log *logger.Logger) *dispatcher {
	return &dispatcher{
		logger:   log,
		sessions: make(map[string]sessionBinding),
	}
}

func (d *dispatcher) register(sessionID string, workdir string, cb model.SessionCallbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[sessionID] = sessionBinding{callbacks: cb, workdir: workdir}
}

func (d *dispatcher) unregister(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}

func (d *dispatcher) binding(sessionID string) (sessionBinding, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.sessions[sessionID]
	return b, ok
}

// SessionUpdate implements acp.Client: forwards the raw notification to the
// owning session's callback, in wire order (the SDK calls this serially per
// connection, so no reordering is introduced here).
func (d *dispatcher) SessionUpdate(_ context.Context, n acp.SessionNotification) error {
	b, ok := d.binding(string(n.SessionId))
	if !ok || b.callbacks.OnSessionUpdate == nil {
		d.logger.Warn("session update for unregistered session", zap.String("session_id", string(n.SessionId)))
		return nil
	}
	b.callbacks.OnSessionUpdate(n)
	return nil
}

// RequestPermission implements acp.Client: routes to the owning session's
// permission callback, or auto-approves when none is registered.
func (d *dispatcher) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	if len(p.Options) == 0 {
		return cancelledResponse(), nil
	}

	b, ok := d.binding(string(p.SessionId))
	if !ok || b.callbacks.OnPermission == nil {
		return autoApprove(p.Options), nil
	}

	title := ""
	if p.ToolCall.Title != nil {
		title = *p.ToolCall.Title
	}
	req := model.PermissionRequest{
		ToolCall: model.PermissionToolCall{ID: string(p.ToolCall.ToolCallId), Title: title},
		Options:  convertOptions(p.Options),
	}

	resp, err := b.callbacks.OnPermission(req)
	if err != nil {
		d.logger.WithError(err).Warn("permission dialog failed, treating as cancelled",
			zap.String("session_id", string(p.SessionId)))
		return cancelledResponse(), nil
	}
	if optionID, ok := resp.Selected(); ok {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{
				Selected: &acp.RequestPermissionOutcomeSelected{OptionId: acp.PermissionOptionId(optionID)},
			},
		}, nil
	}
	return cancelledResponse(), nil
}

func cancelledResponse() acp.RequestPermissionResponse {
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
	}
}

func autoApprove(options []acp.PermissionOption) acp.RequestPermissionResponse {
	selected := &options[0]
	for i := range options {
		if options[i].Kind == acp.PermissionOptionKindAllowOnce || options[i].Kind == acp.PermissionOptionKindAllowAlways {
			selected = &options[i]
			break
		}
	}
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: selected.OptionId},
		},
	}
}

func convertOptions(options []acp.PermissionOption) []model.PermissionOption {
	out := make([]model.PermissionOption, len(options))
	for i, opt := range options {
		out[i] = model.PermissionOption{OptionID: string(opt.OptionId), Kind: model.PermissionKind(opt.Kind)}
	}
	return out
}

// resolvePath guards against path traversal outside the owning session's
// workdir, following this codebase's workspace-root confinement convention.
func resolvePath(workdir, reqPath string) (string, error) {
	var resolved string
	if filepath.IsAbs(reqPath) {
		resolved = filepath.Clean(reqPath)
	} else {
		resolved = filepath.Join(workdir, reqPath)
	}
	root := filepath.Clean(workdir) + string(filepath.Separator)
	if resolved != filepath.Clean(workdir) && !strings.HasPrefix(resolved, root) {
		return "", fmt.Errorf("path %q resolves outside workdir %q", reqPath, workdir)
	}
	return resolved, nil
}

// ReadTextFile implements acp.Client, scoped to the requesting session's workdir.
func (d *dispatcher) ReadTextFile(_ context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	b, ok := d.binding(string(p.SessionId))
	if !ok {
		return acp.ReadTextFileResponse{}, fmt.Errorf("unknown session %q", p.SessionId)
	}
	path, err := resolvePath(b.workdir, p.Path)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	text := string(content)
	if p.Line != nil || p.Limit != nil {
		lines := strings.Split(text, "\n")
		start := 0
		if p.Line != nil && *p.Line > 0 {
			start = *p.Line - 1
		}
		if start > len(lines) {
			start = len(lines)
		}
		end := len(lines)
		if p.Limit != nil && *p.Limit > 0 && start+*p.Limit < end {
			end = start + *p.Limit
		}
		text = strings.Join(lines[start:end], "\n")
	}
	return acp.ReadTextFileResponse{Content: text}, nil
}

// WriteTextFile implements acp.Client, scoped to the requesting session's workdir.
func (d *dispatcher) WriteTextFile(_ context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	b, ok := d.binding(string(p.SessionId))
	if !ok {
		return acp.WriteTextFileResponse{}, fmt.Errorf("unknown session %q", p.SessionId)
	}
	path, err := resolvePath(b.workdir, p.Path)
	if err != nil {
		return acp.WriteTextFileResponse{}, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return acp.WriteTextFileResponse{}, err
		}
	}
	return acp.WriteTextFileResponse{}, os.WriteFile(path, []byte(p.Content), 0o644)
}

// Terminal RPCs are not part of this core's scope (spec §1 Non-goals: no
// sandboxing/tool dispatch beyond the ACP content vocabulary); these stubs
// satisfy the acp.Client interface without offering a real terminal.
func (d *dispatcher) CreateTerminal(context.Context, acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, fmt.Errorf("terminal support not implemented")
}

func (d *dispatcher) KillTerminalCommand(context.Context, acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}

func (d *dispatcher) TerminalOutput(context.Context, acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, fmt.Errorf("terminal support not implemented")
}

func (d *dispatcher) ReleaseTerminal(context.Context, acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}

func (d *dispatcher) WaitForTerminalExit(context.Context, acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, fmt.Errorf("terminal support not implemented")
}

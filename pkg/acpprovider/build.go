package acpprovider

import (
	"context"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/persistence"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/process"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/session"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/config"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/tracing"
)

// New is the composition root: it builds the persistence store, process
// pool and session manager from cfg, wires the process pool's death hook
// to the session manager's sweep so a crashed agent's SessionRecords are
// invalidated rather than reused, installs the tracing provider, and
// returns a ready Provider. The returned close func must be called on
// shutdown; it tears down every live session and flushes the trace
// provider.
func New(cfg *config.Config, registry AgentRegistry, dialog PermissionDialog, log *logger.Logger) (*Provider, func(context.Context) error, error) {
	if log == nil {
		log = logger.Default()
	}
	tracing.Init()

	store, err := persistence.NewSQLiteStore(cfg.Workspace.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	sessionPersistence, err := persistence.New(store, cfg.Workspace.Root, log)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	processes := process.NewManager(log, cfg.Process.HandshakeTimeout(), cfg.Process.TerminationGrace(), cfg.Process.StderrBufferLines)
	sessions := session.NewManager(processes, sessionPersistence, log)
	processes.OnDeath(sessions.NotifyProcessDeath)

	provider := NewProvider(registry, sessions, processes, dialog, log)

	closeFn := func(ctx context.Context) error {
		sessions.ClearAll(ctx)
		err := sessionPersistence.Close()
		if shutdownErr := tracing.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
		return err
	}

	return provider, closeFn, nil
}

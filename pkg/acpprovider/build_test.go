package acpprovider

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/config"
)

// TestNewBuildsProviderFromConfigAndCloses exercises the composition root's
// actual wiring, not just its call graph: a Config pointing at a temporary
// workspace root and database path must produce a Provider backed by a real
// SQLite-persisted session manager, and tearing it down must not error.
func TestNewBuildsProviderFromConfigAndCloses(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Workspace: config.WorkspaceConfig{
			Root:         filepath.Join(dir, "workspaces"),
			DatabasePath: filepath.Join(dir, "sessions.db"),
		},
		Process: config.ProcessConfig{
			HandshakeTimeoutSeconds: 2,
			TerminationGraceSeconds: 1,
			StderrBufferLines:       10,
		},
	}

	provider, closeFn, err := New(cfg, &fakeRegistry{agents: map[string]model.AgentDefinition{}}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, provider)
	require.NotNil(t, closeFn)

	require.NoError(t, closeFn(context.Background()))
}

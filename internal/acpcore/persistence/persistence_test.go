package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *SessionPersistence {
	t.Helper()
	root := t.TempDir()
	p, err := New(NewMemoryStore(), root, nil)
	require.NoError(t, err)
	return p
}

func TestGetWorkdirGeneratesAndPersistsDefault(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	wd1, err := p.GetWorkdir(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	require.Equal(t, filepath.Base(wd1), "conv-1")

	wd2, err := p.GetWorkdir(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	require.Equal(t, wd1, wd2)
}

func TestGetWorkdirDistinctPerConversation(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	a, err := p.GetWorkdir(ctx, "conv-a", "agent-x")
	require.NoError(t, err)
	b, err := p.GetWorkdir(ctx, "conv-b", "agent-x")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestUpdateWorkdirInvalidatesDefault(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	_, err := p.GetWorkdir(ctx, "conv-1", "agent-a")
	require.NoError(t, err)

	require.NoError(t, p.UpdateWorkdir(ctx, "conv-1", "agent-a", "/tmp/explicit"))

	wd, err := p.GetWorkdir(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	require.Equal(t, "/tmp/explicit", wd)
}

func TestResolveWorkdirIdempotent(t *testing.T) {
	p := newTestPersistence(t)

	for _, in := range []string{"", "~/projects/x", "relative/sub", "/already/absolute"} {
		once, err := p.ResolveWorkdir(in)
		require.NoError(t, err)
		twice, err := p.ResolveWorkdir(once)
		require.NoError(t, err)
		require.Equal(t, once, twice, "ResolveWorkdir should be idempotent for input %q", in)
	}
}

func TestUpdateSessionIDRoundTrips(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.UpdateSessionID(ctx, "conv-1", "agent-a", "sess-123"))

	rec := p.GetSessionData(ctx, "conv-1", "agent-a")
	require.NotNil(t, rec)
	require.Equal(t, "sess-123", rec.SessionID)
}

func TestGetSessionDataMissingReturnsNil(t *testing.T) {
	p := newTestPersistence(t)
	rec := p.GetSessionData(context.Background(), "no-such-conv", "no-such-agent")
	require.Nil(t, rec)
}

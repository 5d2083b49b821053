package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	rec, err := store.Get(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, store.PutWorkdir(ctx, "conv-1", "agent-a", "/w/a"))
	require.NoError(t, store.PutSessionID(ctx, "conv-1", "agent-a", "sess-1"))

	rec, err = store.Get(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "/w/a", rec.Workdir)
	require.Equal(t, "sess-1", rec.SessionID)

	require.NoError(t, store.PutWorkdir(ctx, "conv-1", "agent-a", "/w/b"))
	rec, err = store.Get(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	require.Equal(t, "/w/b", rec.Workdir)
	require.Equal(t, "sess-1", rec.SessionID, "updating workdir must not clobber session id")
}

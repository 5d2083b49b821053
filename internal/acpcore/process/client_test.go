package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
)

func fakeSessionNotification(sessionID string) acp.SessionNotification {
	return acp.SessionNotification{SessionId: acp.SessionId(sessionID)}
}

func newTestDispatcher() *dispatcher {
	return newDispatcher(logger.Default())
}

func TestDispatcherSessionUpdateRoutesBySessionID(t *testing.T) {
	d := newTestDispatcher()
	gotA := make(chan any, 1)
	gotB := make(chan any, 1)
	d.register("sess-a", "/tmp", model.SessionCallbacks{OnSessionUpdate: func(n any) { gotA <- n }})
	d.register("sess-b", "/tmp", model.SessionCallbacks{OnSessionUpdate: func(n any) { gotB <- n }})

	require.NoError(t, d.SessionUpdate(context.Background(), fakeSessionNotification("sess-b")))

	select {
	case <-gotB:
	default:
		t.Fatal("sess-b callback should have fired")
	}
	select {
	case <-gotA:
		t.Fatal("sess-a callback should not have fired")
	default:
	}
}

func TestDispatcherSessionUpdateUnregisteredSessionDoesNotPanic(t *testing.T) {
	d := newTestDispatcher()
	require.NotPanics(t, func() {
		err := d.SessionUpdate(context.Background(), fakeSessionNotification("ghost"))
		require.NoError(t, err)
	})
}

func TestDispatcherRequestPermissionNoOptionsIsCancelled(t *testing.T) {
	d := newTestDispatcher()
	resp, err := d.RequestPermission(context.Background(), acp.RequestPermissionRequest{
		SessionId: "sess-a",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Cancelled)
}

func TestDispatcherRequestPermissionUnregisteredAutoApproves(t *testing.T) {
	d := newTestDispatcher()
	resp, err := d.RequestPermission(context.Background(), acp.RequestPermissionRequest{
		SessionId: "sess-a",
		Options: []acp.PermissionOption{
			{OptionId: "reject-1", Kind: acp.PermissionOptionKindRejectOnce},
			{OptionId: "allow-1", Kind: acp.PermissionOptionKindAllowOnce},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Selected)
	require.Equal(t, acp.PermissionOptionId("allow-1"), resp.Outcome.Selected.OptionId)
}

func TestDispatcherRequestPermissionRoutesToRegisteredCallback(t *testing.T) {
	d := newTestDispatcher()
	var seenTitle string
	d.register("sess-a", "/tmp", model.SessionCallbacks{
		OnPermission: func(req model.PermissionRequest) (model.PermissionResponse, error) {
			seenTitle = req.ToolCall.Title
			return model.PermissionResponse{OptionID: req.Options[1].OptionID}, nil
		},
	})

	title := "run tests"
	resp, err := d.RequestPermission(context.Background(), acp.RequestPermissionRequest{
		SessionId: "sess-a",
		ToolCall: struct {
			Title      *string
			ToolCallId acp.ToolCallId
			Kind       *string
			RawInput   any
		}{Title: &title, ToolCallId: "tc-1"},
		Options: []acp.PermissionOption{
			{OptionId: "reject-1", Kind: acp.PermissionOptionKindRejectOnce},
			{OptionId: "allow-1", Kind: acp.PermissionOptionKindAllowOnce},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "run tests", seenTitle)
	require.NotNil(t, resp.Outcome.Selected)
	require.Equal(t, acp.PermissionOptionId("allow-1"), resp.Outcome.Selected.OptionId)
}

func TestDispatcherRequestPermissionCancelledByHandler(t *testing.T) {
	d := newTestDispatcher()
	d.register("sess-a", "/tmp", model.SessionCallbacks{
		OnPermission: func(model.PermissionRequest) (model.PermissionResponse, error) {
			return model.PermissionResponse{Cancelled: true}, nil
		},
	})

	resp, err := d.RequestPermission(context.Background(), acp.RequestPermissionRequest{
		SessionId: "sess-a",
		Options:   []acp.PermissionOption{{OptionId: "allow-1", Kind: acp.PermissionOptionKindAllowOnce}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Cancelled)
}

func TestResolvePathRejectsTraversal(t *testing.T) {
	_, err := resolvePath("/workspace/conv-1", "../../etc/passwd")
	require.Error(t, err)
}

func TestResolvePathAllowsNestedRelative(t *testing.T) {
	resolved, err := resolvePath("/workspace/conv-1", "src/main.go")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/workspace/conv-1", "src/main.go"), resolved)
}

func TestReadWriteTextFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher()
	d.register("sess-a", dir, model.SessionCallbacks{})

	_, err := d.WriteTextFile(context.Background(), acp.WriteTextFileRequest{
		SessionId: "sess-a",
		Path:      "notes.txt",
		Content:   "line one\nline two\nline three\n",
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "notes.txt"))

	resp, err := d.ReadTextFile(context.Background(), acp.ReadTextFileRequest{
		SessionId: "sess-a",
		Path:      "notes.txt",
	})
	require.NoError(t, err)
	require.Equal(t, "line one\nline two\nline three\n", resp.Content)
}

func TestReadTextFileUnknownSessionErrors(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.ReadTextFile(context.Background(), acp.ReadTextFileRequest{SessionId: "ghost", Path: "x"})
	require.Error(t, err)
}

func TestReadTextFileRejectsEscapingWorkdir(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher()
	d.register("sess-a", dir, model.SessionCallbacks{})

	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))

	_, err := d.ReadTextFile(context.Background(), acp.ReadTextFileRequest{
		SessionId: "sess-a",
		Path:      outside,
	})
	require.Error(t, err)
}

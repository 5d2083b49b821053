package process

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
)

func newTestHandle(t *testing.T, bufCap int) *ProcessHandle {
	t.Helper()
	return newProcessHandle("agent-a", logger.Default(), bufCap)
}

func TestStripANSIRemovesEscapeCodes(t *testing.T) {
	require.Equal(t, "hello world", stripANSI("\x1b[31mhello\x1b[0m world"))
	require.Equal(t, "plain", stripANSI("plain"))
}

func TestStderrRingBufferDropsOldest(t *testing.T) {
	h := newTestHandle(t, 3)
	for i := 0; i < 5; i++ {
		h.appendStderr(fmt.Sprintf("line-%d", i))
	}
	require.Equal(t, []string{"line-2", "line-3", "line-4"}, h.recentStderr())
}

func TestStderrRingBufferStripsANSI(t *testing.T) {
	h := newTestHandle(t, 10)
	h.appendStderr("\x1b[1mboldtext\x1b[0m")
	require.Equal(t, []string{"boldtext"}, h.recentStderr())
}

func TestRefCountTracksAcquireRelease(t *testing.T) {
	h := newTestHandle(t, 10)
	h.acquire()
	h.acquire()
	require.Equal(t, 2, h.refs())

	require.False(t, h.releaseRef())
	require.Equal(t, 1, h.refs())

	require.True(t, h.releaseRef())
	require.Equal(t, 0, h.refs())
}

func TestHealthDefaultsToStarting(t *testing.T) {
	h := newTestHandle(t, 10)
	require.Equal(t, model.ProcessStarting, h.Health())
}

func TestRegisterUnregisterSessionRouting(t *testing.T) {
	h := newTestHandle(t, 10)
	received := make(chan any, 1)
	h.RegisterSession("sess-1", "/tmp/work", model.SessionCallbacks{
		OnSessionUpdate: func(n any) { received <- n },
	})

	h.dispatcher.SessionUpdate(nil, fakeSessionNotification("sess-1"))
	select {
	case <-received:
	default:
		t.Fatal("expected registered callback to receive the notification")
	}

	h.UnregisterSession("sess-1")
	_, ok := h.dispatcher.binding("sess-1")
	require.False(t, ok)
}

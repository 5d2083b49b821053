package content

import (
	"encoding/json"
	"testing"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
)

// decodeNotification builds a SessionNotification from a raw ACP wire frame,
// exercising the same json tags the real agent subprocess would produce
// rather than guessing at the SDK's internal Go struct names.
func decodeNotification(t *testing.T, rawUpdate string) acp.SessionNotification {
	t.Helper()
	frame := `{"sessionId":"sess-1","update":` + rawUpdate + `}`
	var n acp.SessionNotification
	require.NoError(t, json.Unmarshal([]byte(frame), &n))
	return n
}

func TestMapNotificationAgentMessageTextChunk(t *testing.T) {
	n := decodeNotification(t, `{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"hello there"}}`)
	events := MapNotification(n)
	require.Len(t, events, 1)
	require.Equal(t, model.EventText, events[0].Type)
	require.Equal(t, "hello there", events[0].Content)
}

func TestMapNotificationAgentMessageImageChunk(t *testing.T) {
	n := decodeNotification(t, `{"sessionUpdate":"agent_message_chunk","content":{"type":"image","data":"b64","mimeType":"image/png"}}`)
	events := MapNotification(n)
	require.Len(t, events, 1)
	require.Equal(t, model.EventImageData, events[0].Type)
	require.Equal(t, "b64", events[0].Data)
	require.Equal(t, "image/png", events[0].MimeType)
}

func TestMapNotificationAgentThoughtChunk(t *testing.T) {
	n := decodeNotification(t, `{"sessionUpdate":"agent_thought_chunk","content":{"type":"text","text":"thinking..."}}`)
	events := MapNotification(n)
	require.Len(t, events, 1)
	require.Equal(t, model.EventReasoning, events[0].Type)
	require.Equal(t, "thinking...", events[0].ReasoningContent)
}

func TestMapNotificationUserMessageChunkSuppressed(t *testing.T) {
	n := decodeNotification(t, `{"sessionUpdate":"user_message_chunk","content":{"type":"text","text":"echo of my own input"}}`)
	events := MapNotification(n)
	require.Empty(t, events, "user_message_chunk must never be echoed back as an event")
}

func TestMapNotificationUnknownKindNeverPanics(t *testing.T) {
	require.NotPanics(t, func() {
		n := decodeNotification(t, `{"sessionUpdate":"some_future_kind","foo":"bar"}`)
		events := MapNotification(n)
		require.Empty(t, events)
	})
}

func TestMapNotificationToolCallEmitsStartAndSummary(t *testing.T) {
	n := decodeNotification(t, `{"sessionUpdate":"tool_call","toolCallId":"tc-1","title":"Run tests","kind":"execute","status":"in_progress"}`)
	events := MapNotification(n)
	require.GreaterOrEqual(t, len(events), 2)
	require.Equal(t, model.EventToolCallStart, events[0].Type)
	require.Equal(t, "tc-1", events[0].ToolCallID)
	require.Equal(t, "Run tests", events[0].ToolCallName)
	require.Equal(t, model.EventReasoning, events[1].Type)
}

func TestMapNotificationToolCallWithDiffContentRendersMarker(t *testing.T) {
	n := decodeNotification(t, `{"sessionUpdate":"tool_call","toolCallId":"tc-2","title":"Edit file","kind":"edit","status":"in_progress","content":[{"type":"diff","path":"src/main.go","newText":"new"}]}`)
	events := MapNotification(n)
	var sawDiffMarker bool
	for _, ev := range events {
		if ev.Type == model.EventText && ev.Content == "diff: src/main.go" {
			sawDiffMarker = true
		}
	}
	require.True(t, sawDiffMarker, "expected a 'diff: <path>' marker among events, got %+v", events)
}

func TestMapNotificationToolCallUpdateCompletedEmitsEnd(t *testing.T) {
	n := decodeNotification(t, `{"sessionUpdate":"tool_call_update","toolCallId":"tc-1","status":"completed"}`)
	events := MapNotification(n)
	var sawEnd bool
	for _, ev := range events {
		if ev.Type == model.EventToolCallEnd && ev.ToolCallID == "tc-1" {
			sawEnd = true
		}
	}
	require.True(t, sawEnd)
}

func TestMapNotificationPlanSummarizesEntries(t *testing.T) {
	n := decodeNotification(t, `{"sessionUpdate":"plan","entries":[{"content":"write tests","status":"pending","priority":"high"},{"content":"ship it","status":"pending","priority":"low"}]}`)
	events := MapNotification(n)
	require.Len(t, events, 1)
	require.Equal(t, model.EventReasoning, events[0].Type)
	require.Contains(t, events[0].ReasoningContent, "write tests")
	require.Contains(t, events[0].ReasoningContent, "ship it")
}

package content

import (
	"fmt"
	"strings"

	acp "github.com/coder/acp-go-sdk"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
)

// MapNotification converts one ACP sessionUpdate notification into zero or
// more internal stream events, per the notification-kind table in spec.md
// §4.3. It never panics: an update this core doesn't recognize yet (a
// forward-compatible protocol addition) yields no events rather than an
// error.
func MapNotification(n acp.SessionNotification) []model.StreamEvent {
	u := n.Update

	switch {
	case u.AgentMessageChunk != nil:
		return mapMessageChunk(u.AgentMessageChunk.Content)

	case u.AgentThoughtChunk != nil:
		return mapThoughtChunk(u.AgentThoughtChunk.Content)

	case u.ToolCall != nil:
		return mapToolCall(u.ToolCall)

	case u.ToolCallUpdate != nil:
		return mapToolCallUpdate(u.ToolCallUpdate)

	case u.Plan != nil:
		return []model.StreamEvent{mapPlan(u.Plan)}

	case u.UserMessageChunk != nil:
		return nil

	default:
		return nil
	}
}

func mapMessageChunk(c acp.ContentBlock) []model.StreamEvent {
	switch {
	case c.Text != nil:
		return []model.StreamEvent{{Type: model.EventText, Content: c.Text.Text}}
	case c.Image != nil:
		return []model.StreamEvent{{Type: model.EventImageData, Data: c.Image.Data, MimeType: c.Image.MimeType}}
	default:
		return []model.StreamEvent{{Type: model.EventText, Content: jsonFallback(c)}}
	}
}

func mapThoughtChunk(c acp.ContentBlock) []model.StreamEvent {
	if c.Text != nil {
		return []model.StreamEvent{{Type: model.EventReasoning, ReasoningContent: c.Text.Text}}
	}
	return []model.StreamEvent{{Type: model.EventReasoning, ReasoningContent: jsonFallback(c)}}
}

func mapToolCall(tc *acp.ToolCall) []model.StreamEvent {
	status := string(tc.Status)
	if status == "" {
		status = "running"
	}
	summary := fmt.Sprintf("%s: %s (%s)", tc.Kind, tc.Title, status)

	events := []model.StreamEvent{{
		Type:         model.EventToolCallStart,
		ToolCallID:   string(tc.ToolCallId),
		ToolCallName: tc.Title,
	}, {
		Type:             model.EventReasoning,
		ReasoningContent: summary,
	}}

	if rendered := renderToolCallContents(tc.Content); rendered != "" {
		events = append(events, model.StreamEvent{Type: model.EventText, Content: rendered})
	}
	return events
}

func mapToolCallUpdate(u *acp.ToolCallUpdate) []model.StreamEvent {
	status := ""
	if u.Status != nil {
		status = string(*u.Status)
	}
	summary := fmt.Sprintf("tool call %s: %s", u.ToolCallId, status)

	events := []model.StreamEvent{{
		Type:             model.EventReasoning,
		ReasoningContent: summary,
	}}

	if rendered := renderToolCallContents(u.Content); rendered != "" {
		events = append(events, model.StreamEvent{Type: model.EventText, Content: rendered})
	}

	if status == "completed" || status == "failed" {
		events = append(events, model.StreamEvent{Type: model.EventToolCallEnd, ToolCallID: string(u.ToolCallId)})
	}
	return events
}

// renderToolCallContents renders tool-call content items: text content as
// plain text, diffs as a "diff: <path>" marker, resource links as their URI,
// and everything else as JSON. Terminal items are rendered as the JSON of
// the terminal reference; their output is not fetched or rendered as text.
func renderToolCallContents(contents []acp.ToolCallContent) string {
	var parts []string
	for _, item := range contents {
		switch {
		case item.Content != nil && item.Content.Content.Text != nil:
			parts = append(parts, item.Content.Content.Text.Text)
		case item.Content != nil && item.Content.Content.ResourceLink != nil:
			parts = append(parts, item.Content.Content.ResourceLink.Uri)
		case item.Diff != nil:
			parts = append(parts, fmt.Sprintf("diff: %s", item.Diff.Path))
		case item.Terminal != nil:
			parts = append(parts, jsonFallback(item.Terminal))
		default:
			parts = append(parts, jsonFallback(item))
		}
	}
	return strings.Join(parts, "\n")
}

func mapPlan(p *acp.Plan) model.StreamEvent {
	var lines []string
	for _, entry := range p.Entries {
		lines = append(lines, fmt.Sprintf("- [%s] %s", entry.Status, entry.Content))
	}
	return model.StreamEvent{Type: model.EventReasoning, ReasoningContent: strings.Join(lines, "\n")}
}

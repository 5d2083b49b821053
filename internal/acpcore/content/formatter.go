// Package content holds the two pure transformation functions that sit
// between the core's internal chat representation and the ACP wire
// vocabulary: MessageFormatter (internal → ACP) and ContentMapper (ACP →
// internal). Neither does I/O and neither panics on unrecognized input.
package content

import (
	"encoding/json"
	"fmt"

	acp "github.com/coder/acp-go-sdk"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
)

// FormatMessages converts the core's internal chat history into the ACP
// content blocks for a single prompt request, preserving turn order. A
// message with no parts still yields one empty text block, never nothing,
// so a prompt never goes out with an ambiguous empty block sequence.
func FormatMessages(messages []model.ChatMessage) []acp.ContentBlock {
	var blocks []acp.ContentBlock
	for _, msg := range messages {
		if len(msg.Parts) == 0 {
			blocks = append(blocks, acp.TextBlock(""))
			continue
		}
		for _, part := range msg.Parts {
			blocks = append(blocks, formatPart(part))
		}
	}
	return blocks
}

func formatPart(part model.MessagePart) acp.ContentBlock {
	switch part.Kind {
	case model.PartImage:
		return acp.ImageBlock(part.Data, part.MimeType)
	case model.PartAudio:
		return acp.AudioBlock(part.Data, part.MimeType)
	case model.PartResourceLink:
		return acp.ResourceLinkBlock(part.URI, part.URI)
	case model.PartResource:
		return acp.ResourceBlock(acp.EmbeddedResourceResource{
			TextResourceContents: &acp.TextResourceContents{Uri: part.URI, Text: part.Text},
		})
	case model.PartToolSummary:
		return acp.TextBlock(part.Text)
	case model.PartText:
		return acp.TextBlock(part.Text)
	default:
		return acp.TextBlock(part.Text)
	}
}

// mapStopReason maps PromptResponse.stopReason per the wire vocabulary in
// spec.md §4.3: unrecognized or absent values default to complete rather
// than propagating an unmapped reason to the caller.
func mapStopReason(reason acp.StopReason) model.StopReason {
	switch string(reason) {
	case "end_turn":
		return model.StopComplete
	case "max_tokens":
		return model.StopMaxTokens
	case "max_turn_requests":
		return model.StopSequence
	case "cancelled", "refusal":
		return model.StopError
	default:
		return model.StopComplete
	}
}

// MapStopReason is the exported entry point for PromptResponse.stopReason
// translation, used by the Provider once a prompt RPC completes.
func MapStopReason(reason acp.StopReason) model.StopReason {
	return mapStopReason(reason)
}

// jsonFallback serializes an arbitrary payload for the forward-compatible
// "opaque content" case; marshal failures degrade to a fixed placeholder
// rather than propagating an error from a function with no error return.
func jsonFallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unserializable content: %v>", err)
	}
	return string(b)
}

// Package model holds the data types shared across the ACP provider core's
// components: agent definitions, process/session records, the internal
// stream-event vocabulary, and the chat-message shapes the core translates
// to and from ACP content blocks.
package model

import "time"

// AgentDefinition is supplied by the external configuration store. It is
// immutable for the lifetime of a ProcessManager entry; any change to it
// must trigger a full release of the associated process.
type AgentDefinition struct {
	ID      string
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// ProcessHealth is the lifecycle state of a ProcessHandle.
type ProcessHealth string

const (
	ProcessStarting ProcessHealth = "starting"
	ProcessReady    ProcessHealth = "ready"
	ProcessDead     ProcessHealth = "dead"
)

// PersistedSessionData is the durable record SessionPersistence stores per
// (conversationId, agentId) pair. It survives process restarts; the
// in-memory SessionRecord is reconstructed from this plus a live
// ProcessHandle.
type PersistedSessionData struct {
	ConversationID string
	AgentID        string
	SessionID      string // empty when no ACP session has been assigned yet
	Workdir        string // empty when no workdir override has been stored
}

// ChatRole identifies the author of a ChatMessage.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is the core's internal chat-history representation, the input
// to content.FormatMessages.
type ChatMessage struct {
	Role  ChatRole
	Parts []MessagePart
}

// MessagePartKind discriminates MessagePart's payload.
type MessagePartKind string

const (
	PartText         MessagePartKind = "text"
	PartImage        MessagePartKind = "image"
	PartAudio        MessagePartKind = "audio"
	PartResourceLink MessagePartKind = "resource_link"
	PartResource     MessagePartKind = "resource"
	// PartToolSummary represents a prior assistant tool-call turn condensed
	// to a text summary, for agents that are not expected to replay it.
	PartToolSummary MessagePartKind = "tool_summary"
)

// MessagePart is one flattened unit of a ChatMessage's content, preserving
// order across multi-part messages.
type MessagePart struct {
	Kind MessagePartKind

	Text     string // PartText, PartToolSummary
	Data     string // PartImage, PartAudio: base64 payload
	MimeType string // PartImage, PartAudio
	URI      string // PartResourceLink, PartResource
}

// StreamEventType discriminates StreamEvent's payload.
type StreamEventType string

const (
	EventText                     StreamEventType = "text"
	EventReasoning                StreamEventType = "reasoning"
	EventToolCallStart            StreamEventType = "tool_call_start"
	EventToolCallChunk            StreamEventType = "tool_call_chunk"
	EventToolCallEnd               StreamEventType = "tool_call_end"
	EventImageData                StreamEventType = "image_data"
	EventVideoData                StreamEventType = "video_data"
	EventMediaGenerationPending    StreamEventType = "media_generation_pending"
	EventMediaGenerationInProgress StreamEventType = "media_generation_progress"
	EventMediaGenerationComplete   StreamEventType = "media_generation_complete"
	EventError                     StreamEventType = "error"
	EventStop                      StreamEventType = "stop"
	EventRagFiles                  StreamEventType = "rag_files"
	EventRagReferences              StreamEventType = "rag_references"
)

// StopReason is the terminal classification of a stream, carried on the
// single StreamEvent of type EventStop that ends it.
type StopReason string

const (
	StopComplete     StopReason = "complete"
	StopError        StopReason = "error"
	StopMaxTokens    StopReason = "max_tokens"
	StopSequence     StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)

// StreamEvent is the tagged union emitted to the chat engine. Only the
// fields relevant to Type are populated; the rest are zero values.
type StreamEvent struct {
	Type StreamEventType

	Content          string // EventText
	ReasoningContent string // EventReasoning

	ToolCallID      string // EventToolCallStart/Chunk/End
	ToolCallName    string // EventToolCallStart
	ArgumentsChunk  string // EventToolCallChunk

	Data     string // EventImageData/EventVideoData: base64 payload
	MimeType string // EventImageData/EventVideoData

	TaskID string // EventMediaGeneration*

	ErrorMessage string // EventError

	StopReason StopReason // EventStop
}

// PermissionKind classifies one option offered in a PermissionRequest.
type PermissionKind string

const (
	AllowOnce    PermissionKind = "allow_once"
	AllowAlways  PermissionKind = "allow_always"
	RejectOnce   PermissionKind = "reject_once"
	RejectAlways PermissionKind = "reject_always"
)

// PermissionOption is one choice offered to the human.
type PermissionOption struct {
	OptionID string
	Kind     PermissionKind
}

// PermissionToolCall describes the tool call a PermissionRequest concerns.
type PermissionToolCall struct {
	ID    string
	Title string
}

// PermissionRequest is inbound from the agent, routed through the
// Provider's permission callback to a human dialog.
type PermissionRequest struct {
	ToolCall PermissionToolCall
	Options  []PermissionOption
}

// PermissionResponse is the human's answer, returned to the agent.
// Cancelled and a non-empty OptionID are mutually exclusive; Cancelled wins
// if both are somehow set.
type PermissionResponse struct {
	OptionID  string
	Cancelled bool
}

// Selected reports whether the response selected an option, returning it.
func (r PermissionResponse) Selected() (string, bool) {
	if r.Cancelled || r.OptionID == "" {
		return "", false
	}
	return r.OptionID, true
}

// SessionCallbacks are registered with a ProcessHandle's dispatcher under a
// session id, so incoming frames for that session reach the right stream.
type SessionCallbacks struct {
	OnSessionUpdate func(notification any)
	OnPermission    func(req PermissionRequest) (PermissionResponse, error)
}

// SessionRecord is the client-side binding of a conversation to a live ACP
// session plus its owning process. Ownership of the ProcessHandle is shared
// by refcount; SessionRecord holds a borrowed reference, not the only one.
type SessionRecord struct {
	ConversationKey string
	AgentID         string
	SessionID       string
	Workdir         string
	Callbacks       SessionCallbacks
	CreatedAt       time.Time
}

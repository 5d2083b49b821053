// Package acpprovider is the public entry point of the ACP provider core:
// Provider turns a chat-engine prompt invocation into a finite lazy
// sequence of StreamEvents, backed by a pool of ACP agent subprocesses.
package acpprovider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	acp "github.com/coder/acp-go-sdk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/acperrors"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/content"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/logger"
	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/platform/tracing"
)

const tracerName = "deepchat-acp-core/provider"

// AgentRegistry is owned by the hosting application (spec §1's Out of
// scope boundary): it supplies the set of configured agents and answers
// modelId lookups. The Provider never persists or mutates it.
type AgentRegistry interface {
	AgentByID(modelID string) (model.AgentDefinition, bool)
	ListAgents() []model.AgentDefinition
}

// PermissionDialog shows the human a tool-call permission request and
// returns their choice. A dialog failure (closed window, timeout upstream,
// IO error) must be reported as an error, which the Provider treats as
// cancelled.
type PermissionDialog func(ctx context.Context, req model.PermissionRequest) (model.PermissionResponse, error)

// SessionAcquirer is the subset of session.Manager the Provider depends
// on, narrowed for testability.
type SessionAcquirer interface {
	GetOrCreateSession(ctx context.Context, conversationKey string, agent model.AgentDefinition, callbacks model.SessionCallbacks, workdirOverride string) (*model.SessionRecord, error)
	ClearSessionsByAgent(ctx context.Context, agentID string)
	ConnectionFor(conversationKey string) (*acp.ClientSideConnection, bool)
}

// ProcessReleaser is the subset of process.Manager the Provider depends on
// for agent-refresh handling.
type ProcessReleaser interface {
	Release(ctx context.Context, agentID string) error
}

// PromptRequest is one coreStream invocation's input.
type PromptRequest struct {
	// ConversationKey binds this prompt to a SessionRecord. Falls back to
	// ModelID when empty (spec §4.5 step 3).
	ConversationKey string
	ModelID         string
	Messages        []model.ChatMessage
	// WorkdirOverride, when non-empty, takes precedence over any previously
	// resolved workdir for this conversation.
	WorkdirOverride string
}

// Provider is the stream orchestrator described in spec §4.5. It is safe
// for concurrent use across unrelated conversations.
type Provider struct {
	registry  AgentRegistry
	sessions  SessionAcquirer
	processes ProcessReleaser
	dialog    PermissionDialog
	logger    *logger.Logger
	broadcast *modelListBroadcaster

	enabled atomic.Bool
}

// NewProvider builds a Provider. dialog may be nil, in which case every
// permission request is treated as cancelled (a safe default for a host
// that has not wired a UI yet).
func NewProvider(registry AgentRegistry, sessions SessionAcquirer, processes ProcessReleaser, dialog PermissionDialog, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Default()
	}
	if dialog == nil {
		dialog = func(context.Context, model.PermissionRequest) (model.PermissionResponse, error) {
			return model.PermissionResponse{Cancelled: true}, nil
		}
	}
	return &Provider{
		registry:  registry,
		sessions:  sessions,
		processes: processes,
		dialog:    dialog,
		logger:    log.WithFields(zap.String("component", "acp-provider")),
		broadcast: newModelListBroadcaster(),
	}
}

// SubscribeModelList registers fn to be called whenever the enabled model
// list changes.
func (p *Provider) SubscribeModelList(fn func([]ModelInfo)) {
	p.broadcast.Subscribe(fn)
}

// SetEnabled transitions the provider's enabled flag. Transitioning to
// true fetches and broadcasts the current model list (spec §4.5's
// enable-state transition); transitioning to false does not forcibly
// close existing streams, it only fails the guard check on future calls.
func (p *Provider) SetEnabled(enabled bool) {
	wasEnabled := p.enabled.Swap(enabled)
	if enabled && !wasEnabled {
		p.broadcast.Publish(p.modelList())
	}
}

// Enabled reports the current enabled flag.
func (p *Provider) Enabled() bool {
	return p.enabled.Load()
}

func (p *Provider) modelList() []ModelInfo {
	agents := p.registry.ListAgents()
	models := make([]ModelInfo, 0, len(agents))
	for _, a := range agents {
		models = append(models, ModelInfo{ID: a.ID, Name: a.Name})
	}
	return models
}

// RefreshAgents tears down every session bound to each of agentIDs and
// releases the corresponding process reference, so the next request
// respawns with the agent's new definition (spec §4.5's agent refresh).
func (p *Provider) RefreshAgents(ctx context.Context, agentIDs []string) {
	for _, id := range agentIDs {
		p.sessions.ClearSessionsByAgent(ctx, id)
		if err := p.processes.Release(ctx, id); err != nil {
			p.logger.WithError(err).Warn("failed to release agent process during refresh", zap.String("agent_id", id))
		}
	}
}

// CoreStream runs the state machine of spec §4.5 and returns a Stream the
// caller iterates with Next until it reports ok=false. Cancel must be
// called by the consumer if it abandons iteration before the stream is
// exhausted, so the in-flight prompt is cancelled on the agent connection.
type CoreStream struct {
	stream *Stream
	cancel func()
	once   sync.Once
}

// Next blocks for the next event; ok is false once the stream is done.
func (c *CoreStream) Next() (model.StreamEvent, bool) {
	return c.stream.Next()
}

// Cancel issues cancel{sessionId} on the underlying connection. Safe to
// call multiple times and safe to call after the stream has already
// finished on its own.
func (c *CoreStream) Cancel() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// CoreStream implements spec §4.5's state machine: guard checks, session
// acquisition, prompt submission, and the event yield loop.
func (p *Provider) CoreStream(ctx context.Context, req PromptRequest) *CoreStream {
	q := newEventQueue()
	stream := &Stream{q: q}

	if !p.Enabled() {
		return p.guardFailure(q, acperrors.Configuration("acp provider is disabled"))
	}
	agent, ok := p.registry.AgentByID(req.ModelID)
	if !ok {
		return p.guardFailure(q, acperrors.Configuration(fmt.Sprintf("unknown agent %q", req.ModelID)))
	}

	conversationKey := req.ConversationKey
	if conversationKey == "" {
		conversationKey = req.ModelID
	}

	promptCtx, cancelPrompt := context.WithCancel(ctx)

	rec, err := p.sessions.GetOrCreateSession(promptCtx, conversationKey, agent, p.callbacks(promptCtx, q), req.WorkdirOverride)
	if err != nil {
		cancelPrompt()
		p.emitErrorAndStop(q, err)
		return &CoreStream{stream: stream, cancel: func() {}}
	}

	go p.runPrompt(promptCtx, q, rec, req.Messages)

	return &CoreStream{
		stream: stream,
		cancel: func() {
			cancelPrompt()
			if conn, ok := p.sessions.ConnectionFor(conversationKey); ok {
				_ = conn.Cancel(context.Background(), acp.CancelNotification{SessionId: acp.SessionId(rec.SessionID)})
			}
		},
	}
}

func (p *Provider) guardFailure(q *eventQueue, err error) *CoreStream {
	p.emitErrorAndStop(q, err)
	return &CoreStream{stream: &Stream{q: q}, cancel: func() {}}
}

func (p *Provider) emitErrorAndStop(q *eventQueue, err error) {
	q.push(model.StreamEvent{Type: model.EventError, ErrorMessage: err.Error()})
	q.push(model.StreamEvent{Type: model.EventStop, StopReason: model.StopError})
	q.done()
}

// callbacks builds the SessionCallbacks routed through the dispatcher for
// one prompt's lifetime (spec §4.5 step 3).
func (p *Provider) callbacks(ctx context.Context, q *eventQueue) model.SessionCallbacks {
	return model.SessionCallbacks{
		OnSessionUpdate: func(notification any) {
			n, ok := notification.(acp.SessionNotification)
			if !ok {
				return
			}
			for _, ev := range content.MapNotification(n) {
				q.push(ev)
			}
		},
		OnPermission: func(req model.PermissionRequest) (model.PermissionResponse, error) {
			q.push(model.StreamEvent{
				Type:             model.EventReasoning,
				ReasoningContent: describePermissionRequest(req),
			})
			resp, err := p.dialog(ctx, req)
			if err != nil {
				p.logger.WithError(err).Warn("permission dialog failed, treating as cancelled")
				return model.PermissionResponse{Cancelled: true}, nil
			}
			return resp, nil
		},
	}
}

func describePermissionRequest(req model.PermissionRequest) string {
	names := make([]string, 0, len(req.Options))
	for _, opt := range req.Options {
		names = append(names, string(opt.Kind))
	}
	return fmt.Sprintf("permission requested for %q: %s", req.ToolCall.Title, strings.Join(names, ", "))
}

// runPrompt issues the ACP prompt RPC and, on completion, pushes the
// terminal stop event and closes the queue (spec §4.5 step 4).
func (p *Provider) runPrompt(ctx context.Context, q *eventQueue, rec *model.SessionRecord, messages []model.ChatMessage) {
	defer q.done()

	conn, ok := p.sessions.ConnectionFor(rec.ConversationKey)
	if !ok {
		q.push(model.StreamEvent{Type: model.EventError, ErrorMessage: "agent connection unavailable"})
		q.push(model.StreamEvent{Type: model.EventStop, StopReason: model.StopError})
		return
	}

	ctx, span := tracing.Tracer(tracerName).Start(ctx, "acp.prompt",
		trace.WithAttributes(attribute.String("conversation_key", rec.ConversationKey)))
	resp, err := conn.Prompt(ctx, acp.PromptRequest{
		SessionId: acp.SessionId(rec.SessionID),
		Prompt:    content.FormatMessages(messages),
	})
	span.End()
	if err != nil {
		if ctx.Err() != nil {
			q.push(model.StreamEvent{Type: model.EventStop, StopReason: model.StopError})
			return
		}
		wrapped := acperrors.PromptFailed(rec.ConversationKey, err)
		q.push(model.StreamEvent{Type: model.EventError, ErrorMessage: wrapped.Error()})
		q.push(model.StreamEvent{Type: model.EventStop, StopReason: model.StopError})
		return
	}

	q.push(model.StreamEvent{Type: model.EventStop, StopReason: content.MapStopReason(resp.StopReason)})
}

// Completions runs CoreStream to exhaustion and concatenates its text and
// reasoning content (spec §4.5's non-streaming entry points).
func (p *Provider) Completions(ctx context.Context, req PromptRequest) (textOut string, reasoningOut string, err error) {
	cs := p.CoreStream(ctx, req)
	var textBuilder, reasoningBuilder strings.Builder
	var streamErr error
	for {
		ev, ok := cs.Next()
		if !ok {
			break
		}
		switch ev.Type {
		case model.EventText:
			textBuilder.WriteString(ev.Content)
		case model.EventReasoning:
			reasoningBuilder.WriteString(ev.ReasoningContent)
		case model.EventError:
			streamErr = acperrors.PromptFailed(req.ConversationKey, fmt.Errorf("%s", ev.ErrorMessage))
		}
	}
	return textBuilder.String(), reasoningBuilder.String(), streamErr
}

// Summaries, GenerateText, and SummaryTitles share Completions' exhaust-
// and-concatenate behavior; the hosting application distinguishes them by
// the messages/config it passes in, not by Provider-side branching.
func (p *Provider) Summaries(ctx context.Context, req PromptRequest) (string, string, error) {
	return p.Completions(ctx, req)
}

func (p *Provider) GenerateText(ctx context.Context, req PromptRequest) (string, string, error) {
	return p.Completions(ctx, req)
}

func (p *Provider) SummaryTitles(ctx context.Context, req PromptRequest) (string, string, error) {
	return p.Completions(ctx, req)
}

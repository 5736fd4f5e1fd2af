// Package agent turns natural-language requests into tool calls against
// the registered AWS tool servers and synthesizes the replies.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/mcp"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/model"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/protocol"
)

const historyWindow = 10

// ToolCaller is the slice of the isolated loop the agent needs. The
// concrete *mcp.Loop satisfies it; tests inject fakes.
type ToolCaller interface {
	CallTool(name string, arguments map[string]any) mcp.CallResult
	Tools() []protocol.ToolDescriptor
}

// ModelFactory builds the completion client at initialization time so
// tests can swap in a scripted model.
type ModelFactory func(cfg *config.Config) (model.Client, error)

// Options injects the agent's collaborators. Zero-value fields fall back
// to the real implementations.
type Options struct {
	Config       *config.Config
	ModelFactory ModelFactory
	ToolCaller   ToolCaller
}

// ConversationTurn is one completed user/assistant exchange.
type ConversationTurn struct {
	ID        string
	User      string
	Assistant string
	ToolsUsed []string
	At        time.Time
}

// ToolOutcome records one tool invocation made while answering a message.
type ToolOutcome struct {
	Tool           string
	Result         mcp.CallResult
	FallbackReason string
}

// DebugSnapshot captures everything that happened while producing the
// most recent reply.
type DebugSnapshot struct {
	UserMessage string
	RawIntent   string
	Intent      Intent
	Outcomes    []ToolOutcome
	Reply       string
	At          time.Time
	Elapsed     time.Duration
}

// Agent is the conversation orchestrator. One instance serves one
// conversation; ProcessMessage is safe to call from any goroutine but
// processes messages one at a time.
type Agent struct {
	cfg *config.Config

	modelFactory ModelFactory
	toolCaller   ToolCaller
	ownedLoop    *mcp.Loop

	mu          sync.Mutex
	initialized bool
	model       model.Client
	history     []ConversationTurn
	lastDebug   *DebugSnapshot
}

func NewAgent(opts Options) *Agent {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	factory := opts.ModelFactory
	if factory == nil {
		factory = model.New
	}
	return &Agent{
		cfg:          cfg,
		modelFactory: factory,
		toolCaller:   opts.ToolCaller,
	}
}

// Initialize builds the model client and, when no tool caller was
// injected, starts the isolated loop and brings up the configured
// servers. Idempotent.
func (a *Agent) Initialize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}

	m, err := a.modelFactory(a.cfg)
	if err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}
	a.model = m

	if a.toolCaller == nil {
		loop := mcp.NewLoop(a.cfg.AWS.Region, a.cfg.AWS.Profile)
		loop.Start()
		if _, err := loop.InitializeServers(a.cfg.EnabledServers()); err != nil {
			loop.Stop()
			return fmt.Errorf("initialize servers: %w", err)
		}
		a.ownedLoop = loop
		a.toolCaller = loop
	}

	a.initialized = true
	log.Printf("[agent] initialized with %d tools", len(a.toolCaller.Tools()))
	return nil
}

// ProcessMessage answers one user message. It never returns an error:
// every failure mode maps to a user-facing reply, and a panic anywhere in
// the pipeline degrades to the generic fallback.
func (a *Agent) ProcessMessage(ctx context.Context, text string) (reply string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := &DebugSnapshot{UserMessage: text, At: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[agent] panic while processing message: %v", r)
			reply = fallbackReply(fmt.Sprintf("internal error: %v", r))
		}
		snap.Reply = reply
		snap.Elapsed = time.Since(snap.At)
		a.lastDebug = snap
	}()

	if !a.initialized {
		return fallbackReply("agent not initialized")
	}

	intent, raw := a.decideIntent(ctx, text)
	snap.RawIntent = raw
	snap.Intent = intent

	var outcomes []ToolOutcome
	if intent.NeedsTools {
		outcomes = a.executeToolCalls(text, intent.ToolCalls)
	}
	snap.Outcomes = outcomes

	reply, err := a.model.Complete(ctx, buildReplyPrompt(text, a.recentHistory(), outcomes))
	if err != nil {
		log.Printf("[agent] reply synthesis failed: %v", err)
		return fallbackReply(err.Error())
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return fallbackReply("empty model response")
	}

	a.appendTurn(text, reply, outcomes)
	return reply
}

// decideIntent asks the model whether tools are needed and which calls to
// make. A response with no parseable JSON object means no tools.
func (a *Agent) decideIntent(ctx context.Context, text string) (Intent, string) {
	raw, err := a.model.Complete(ctx, buildIntentPrompt(text, a.toolCaller.Tools(), a.recentHistory()))
	if err != nil {
		log.Printf("[agent] intent decision failed: %v", err)
		return Intent{}, ""
	}
	return parseIntent(raw), raw
}

// executeToolCalls runs each requested call through repair, dispatch, and
// the one-shot suggestion fallback for validation failures.
func (a *Agent) executeToolCalls(userText string, calls []ToolCall) []ToolOutcome {
	catalog := a.toolCaller.Tools()
	outcomes := make([]ToolOutcome, 0, len(calls))
	suggested := false

	for _, call := range calls {
		tool, ok := resolveTool(catalog, call.Tool)
		if !ok {
			log.Printf("[agent] model requested unknown tool %q", call.Tool)
			outcomes = append(outcomes, ToolOutcome{
				Tool:   call.Tool,
				Result: mcp.CallResult{Error: fmt.Sprintf("Tool %s not found", call.Tool)},
			})
			continue
		}

		args := repairArguments(tool, call.Arguments)
		res := a.toolCaller.CallTool(tool.QualifiedName(), args)
		outcome := ToolOutcome{Tool: tool.QualifiedName(), Result: res}

		if res.Error != "" && isValidationError(res.Error) && !suggested {
			if alt, reason, ok := a.suggestCommands(tool.ServerName, userText, res.Error); ok {
				suggested = true
				outcome.Result = alt
				outcome.FallbackReason = reason
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// suggestCommands retries a failed validation through the owning server's
// suggestion tool, when it has one. Only a successful suggestion replaces
// the original outcome; a failing one keeps the raw validation error and
// leaves the fallback available for later calls in the same message.
func (a *Agent) suggestCommands(serverName, userText, origErr string) (mcp.CallResult, string, bool) {
	name := serverName + ":" + suggestToolName
	if _, ok := resolveTool(a.toolCaller.Tools(), name); !ok {
		return mcp.CallResult{}, "", false
	}
	log.Printf("[agent] validation failure, falling back to %s", name)
	res := a.toolCaller.CallTool(name, map[string]any{"query": userText})
	if res.Error != "" {
		log.Printf("[agent] suggestion fallback failed: %s", res.Error)
		return mcp.CallResult{}, "", false
	}
	return res, "validation error: " + origErr, true
}

// resolveTool matches a model-chosen name against the catalog, first by
// qualified name, then by bare tool name.
func resolveTool(catalog []protocol.ToolDescriptor, name string) (protocol.ToolDescriptor, bool) {
	for _, tool := range catalog {
		if tool.QualifiedName() == name {
			return tool, true
		}
	}
	for _, tool := range catalog {
		if tool.Name == name {
			return tool, true
		}
	}
	return protocol.ToolDescriptor{}, false
}

func (a *Agent) appendTurn(user, assistant string, outcomes []ToolOutcome) {
	used := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		used = append(used, o.Tool)
	}
	a.history = append(a.history, ConversationTurn{
		ID:        uuid.NewString(),
		User:      user,
		Assistant: assistant,
		ToolsUsed: used,
		At:        time.Now(),
	})
}

func (a *Agent) recentHistory() []ConversationTurn {
	if len(a.history) <= historyWindow {
		return a.history
	}
	return a.history[len(a.history)-historyWindow:]
}

// History returns a copy of the full conversation so far.
func (a *Agent) History() []ConversationTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ConversationTurn, len(a.history))
	copy(out, a.history)
	return out
}

// ClearHistory drops the conversation state but keeps servers running.
func (a *Agent) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.lastDebug = nil
}

// LastDebug returns the snapshot for the most recent message, if any.
func (a *Agent) LastDebug() *DebugSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastDebug
}

// Tools exposes the current catalog for status surfaces.
func (a *Agent) Tools() []protocol.ToolDescriptor {
	a.mu.Lock()
	tc := a.toolCaller
	a.mu.Unlock()
	if tc == nil {
		return nil
	}
	return tc.Tools()
}

// Cleanup stops the loop the agent owns. Injected tool callers are the
// caller's responsibility.
func (a *Agent) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ownedLoop != nil {
		a.ownedLoop.Stop()
		a.ownedLoop = nil
	}
	a.initialized = false
}

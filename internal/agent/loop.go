package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"skiff/internal/llm"
)

// IterationLimitReply is the fixed diagnostic persisted when the model
// keeps calling tools without converging.
const IterationLimitReply = "ERROR: MAX ITERATIONS REACHED"

// DefaultMaxIterations bounds model calls per turn.
const DefaultMaxIterations = 5

// loop states. One turn moves awaitingModel -> dispatchingTools ->
// awaitingModel until the model answers without tool calls, the
// iteration cap trips, or inference fails.
type loopState int

const (
	stateAwaitingModel loopState = iota
	stateDispatchingTools
	stateDone
)

// Orchestrator drives one conversation turn: repeated model calls with
// tool dispatch in between. It holds no per-turn state, so one instance
// serves concurrent turns.
type Orchestrator struct {
	model         llm.Client
	invoker       *Invoker
	catalog       *Catalog
	systemPrompt  string
	maxIterations int
	log           *slog.Logger
}

// NewOrchestrator wires the loop's collaborators. maxIterations <= 0
// falls back to DefaultMaxIterations.
func NewOrchestrator(model llm.Client, invoker *Invoker, catalog *Catalog, systemPrompt string, maxIterations int, log *slog.Logger) *Orchestrator {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		model:         model,
		invoker:       invoker,
		catalog:       catalog,
		systemPrompt:  systemPrompt,
		maxIterations: maxIterations,
		log:           log,
	}
}

// Result is the outcome of one turn. Reply is always non-empty and is
// what gets persisted as the assistant's answer, diagnostic or not.
type Result struct {
	Reply      string
	ModelCalls int
	ToolCalls  int
}

// Run executes one turn. history is the persisted conversation so far
// (user/assistant roles only); userMessage is the new inbound message.
// Run never returns an error: every failure mode becomes a diagnostic
// reply so the caller always has exactly one assistant message to
// persist.
func (o *Orchestrator) Run(ctx context.Context, history []llm.Message, userMessage string) Result {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: o.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})

	tools := o.catalog.Tools()

	var result Result
	state := stateAwaitingModel

	for state != stateDone {
		switch state {
		case stateAwaitingModel:
			if result.ModelCalls >= o.maxIterations {
				o.log.Warn("iteration limit reached", "calls", result.ModelCalls)
				result.Reply = IterationLimitReply
				state = stateDone
				continue
			}
			result.ModelCalls++

			resp, err := o.model.Chat(ctx, messages, tools)
			if err != nil {
				o.log.Error("model inference failed", "error", err)
				result.Reply = fmt.Sprintf("Model API error: %v", err)
				state = stateDone
				continue
			}

			messages = append(messages, resp.Message)

			if len(resp.Message.ToolCalls) == 0 {
				result.Reply = resp.Message.Content
				state = stateDone
				continue
			}
			state = stateDispatchingTools

		case stateDispatchingTools:
			assistant := messages[len(messages)-1]
			for _, call := range assistant.ToolCalls {
				result.ToolCalls++
				messages = append(messages, o.dispatch(ctx, call, userMessage, messages))
			}
			state = stateAwaitingModel
		}
	}

	if result.Reply == "" {
		// A model reply with no content and no tool calls still has to
		// produce a persisted message.
		result.Reply = "I was unable to produce a response. Please try again."
	}
	return result
}

// dispatch executes one tool call and returns its tool-result message.
// Malformed arguments are reported back to the model instead of ending
// the turn.
func (o *Orchestrator) dispatch(ctx context.Context, call llm.ToolCall, userMessage string, messages []llm.Message) llm.Message {
	toolMsg := llm.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	var args Args
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		o.log.Warn("malformed tool arguments", "tool", call.Name, "error", err)
		toolMsg.Content = fmt.Sprintf("Error parsing tool arguments: %v", err)
		return toolMsg
	}

	explicit := args.String("backend")
	backend := Resolve(ResolveInput{
		Tool:        call.Name,
		BackendArg:  explicit,
		FolderID:    args.String("folder_id"),
		FolderName:  args.String("folder_name"),
		UserMessage: userMessage,
		Recent:      messages,
	})
	args["backend"] = backend.String()

	o.log.Info("tool call",
		"tool", call.Name,
		"backend", backend.String(),
		"explicit", explicit != "")

	toolMsg.Content = o.invoker.Execute(ctx, call.Name, backend, args)
	return toolMsg
}

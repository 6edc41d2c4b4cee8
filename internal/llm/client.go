package llm

import "context"

// Client is the interface the orchestrator uses for model inference.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// The returned message may carry zero or more tool calls; zero tool
	// calls means the content is the model's final answer.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*ChatResponse, error)
}

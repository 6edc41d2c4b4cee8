// Package llm provides the model inference client.
package llm

// Message represents a chat message for the model.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	ToolName   string     `json:"name,omitempty"`         // For tool responses
}

// ToolCall represents a tool call requested by the model. Arguments is the
// raw JSON string as emitted by the provider; callers parse it themselves so
// that malformed arguments can be reported back to the model instead of
// failing the turn.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declares a callable tool to the model. Parameters is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatResponse is the provider-neutral response from one inference call.
// Wire format conversion happens at the provider boundary (openai.go).
type ChatResponse struct {
	Message Message
	Model   string

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}

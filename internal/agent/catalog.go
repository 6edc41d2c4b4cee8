package agent

import (
	"sync"

	"skiff/internal/llm"
)

// Catalog holds the tool schemas advertised to the model. It is shared
// read-only across concurrent turns; Replace exists so schemas can be
// swapped at startup (e.g. a prompt-tuned variant) without racing
// in-flight turns.
type Catalog struct {
	mu    sync.RWMutex
	tools []llm.ToolDefinition
}

// NewCatalog returns a catalog with the built-in file tools.
func NewCatalog() *Catalog {
	return &Catalog{tools: defaultTools()}
}

// Tools returns a copy of the current schemas, safe for the caller to
// hold across a turn.
func (c *Catalog) Tools() []llm.ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]llm.ToolDefinition, len(c.tools))
	copy(out, c.tools)
	return out
}

// Replace swaps the full schema set.
func (c *Catalog) Replace(tools []llm.ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tools = make([]llm.ToolDefinition, len(tools))
	copy(c.tools, tools)
}

func defaultTools() []llm.ToolDefinition {
	backendProp := map[string]any{
		"type":        "string",
		"enum":        []string{"google", "dropbox"},
		"description": "Storage backend to use. Omit to let the server infer it from context.",
	}

	return []llm.ToolDefinition{
		{
			Name:        ToolListFiles,
			Description: "List files in Google Drive or Dropbox. Without a folder, shows top-level folders so one can be opened by ID or name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"backend":     backendProp,
					"folder_id":   map[string]any{"type": "string", "description": "Folder ID (Google Drive) or folder path (Dropbox)."},
					"folder_name": map[string]any{"type": "string", "description": "Human-readable folder name to open."},
				},
			},
		},
		{
			Name:        ToolSearchFiles,
			Description: "Search files by name in Google Drive or Dropbox, optionally within one folder.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"backend":     backendProp,
					"query":       map[string]any{"type": "string", "description": "Search text matched against file names."},
					"folder_id":   map[string]any{"type": "string", "description": "Folder ID (Google Drive) or folder path (Dropbox) to search within."},
					"folder_name": map[string]any{"type": "string", "description": "Human-readable folder name to search within."},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolGetFile,
			Description: "Read the full content of a file. Supports plain text, Markdown, Google Docs, and .docx.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"backend":   backendProp,
					"file_id":   map[string]any{"type": "string", "description": "File ID (Google Drive)."},
					"file_path": map[string]any{"type": "string", "description": "File path (Dropbox)."},
				},
			},
		},
		{
			Name:        ToolSummarizeFile,
			Description: "Fetch a file's content for summarization. Supports .txt and .docx.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"backend":   backendProp,
					"file_id":   map[string]any{"type": "string", "description": "File ID (Google Drive)."},
					"file_path": map[string]any{"type": "string", "description": "File path (Dropbox)."},
				},
			},
		},
	}
}

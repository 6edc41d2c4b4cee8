// Package agent implements the conversation orchestration core: the
// backend resolver, the tool invoker, and the model loop that ties them
// together.
package agent

import (
	"strings"

	"skiff/internal/llm"
	"skiff/internal/storage"
)

// Tool names the model can call.
const (
	ToolListFiles     = "list_files"
	ToolSearchFiles   = "search_files"
	ToolGetFile       = "get_file"
	ToolSummarizeFile = "summarize_file"
)

// HistoryWindow bounds how many trailing messages the resolver scans
// for backend evidence.
const HistoryWindow = 5

// ResolveInput is everything the resolver may consider for one tool
// call. Recent is the tail of the running message sequence, oldest
// first; only tool-result messages in it are evidence.
type ResolveInput struct {
	Tool        string
	BackendArg  string
	FolderID    string
	FolderName  string
	UserMessage string
	Recent      []llm.Message
}

// FolderScoped reports whether a tool operates on folders, which makes
// it eligible for history-based backend inference.
func FolderScoped(tool string) bool {
	return tool == ToolListFiles || tool == ToolSearchFiles
}

// Resolve decides which storage backend a tool call targets. It is a
// pure function; priority is strict and short-circuiting:
//
//  1. an explicit, valid backend argument
//  2. backend keywords in the current user message
//  3. for folder-scoped tools, backend markers (or legacy phrases) in
//     recent tool results, nearest first, filtered by folder when one
//     is named
//  4. Google Drive as the default
func Resolve(in ResolveInput) storage.Backend {
	if b, err := storage.ParseBackend(in.BackendArg); in.BackendArg != "" && err == nil {
		return b
	}

	if b, ok := DetectBackend(in.UserMessage); ok {
		return b
	}

	if FolderScoped(in.Tool) {
		if b, ok := resolveFromHistory(in.Recent, in.FolderID, in.FolderName); ok {
			return b
		}
	}

	return storage.BackendGoogle
}

// DetectBackend looks for backend-identifying keywords in a user
// message. "drive" alone counts as Google only when "dropbox" is absent,
// since Dropbox users say "drive" generically.
func DetectBackend(text string) (storage.Backend, bool) {
	lower := strings.ToLower(text)

	if strings.Contains(lower, "dropbox") || strings.Contains(lower, "dbx") {
		return storage.BackendDropbox, true
	}
	if strings.Contains(lower, "google") ||
		(strings.Contains(lower, "drive") && !strings.Contains(lower, "dropbox")) {
		return storage.BackendGoogle, true
	}
	return storage.BackendGoogle, false
}

// Legacy phrase patterns for tool results that predate the backend
// marker. Matched lowercased.
var (
	dropboxPhrases = []string{
		"dropbox root contents",
		"dropbox folder:",
		"dropbox root search",
		"dropbox folder search",
	}
	googlePhrases = []string{
		"google drive",
		"first 5 google drive",
		"google folder:",
	}
)

// backendOfResult identifies which backend produced a tool-result
// message, from its marker first and legacy phrases second.
func backendOfResult(content string) (storage.Backend, bool) {
	lower := strings.ToLower(content)

	if strings.Contains(lower, "[backend: dropbox]") {
		return storage.BackendDropbox, true
	}
	if strings.Contains(lower, "[backend: google drive]") {
		return storage.BackendGoogle, true
	}

	for _, p := range dropboxPhrases {
		if strings.Contains(lower, p) {
			return storage.BackendDropbox, true
		}
	}
	for _, p := range googlePhrases {
		if strings.Contains(lower, p) {
			return storage.BackendGoogle, true
		}
	}
	return storage.BackendGoogle, false
}

// resolveFromHistory scans recent tool results newest-first. When the
// call names a folder, only results mentioning that folder are
// eligible; the first eligible result wins.
func resolveFromHistory(recent []llm.Message, folderID, folderName string) (storage.Backend, bool) {
	window := recent
	if len(window) > HistoryWindow {
		window = window[len(window)-HistoryWindow:]
	}

	for i := len(window) - 1; i >= 0; i-- {
		msg := window[i]
		if msg.Role != "tool" || msg.Content == "" {
			continue
		}

		backend, ok := backendOfResult(msg.Content)
		if !ok {
			continue
		}

		if folderID != "" || folderName != "" {
			if !mentionsFolder(msg.Content, folderID, folderName) {
				continue
			}
		}
		return backend, true
	}
	return storage.BackendGoogle, false
}

// mentionsFolder reports whether a tool result references the folder:
// exact substring for IDs, case-insensitive substring for names.
func mentionsFolder(content, folderID, folderName string) bool {
	if folderID != "" && strings.Contains(content, folderID) {
		return true
	}
	if folderName != "" &&
		strings.Contains(strings.ToLower(content), strings.ToLower(folderName)) {
		return true
	}
	return false
}

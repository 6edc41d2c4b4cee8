package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"skiff/internal/docx"
	"skiff/internal/storage"
)

// Args is one tool call's parsed argument map.
type Args map[string]any

// String returns the named argument as a trimmed string, or "" when
// absent or not a string.
func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Invoker executes resolved tool calls against the storage adapters.
// Every result is text carrying the marker of the backend actually
// used; adapter failures are rendered as text, never returned as
// errors, so the orchestrator can always feed results to the model.
type Invoker struct {
	adapters map[storage.Backend]storage.Adapter
	cache    *storage.FolderCache
	log      *slog.Logger
}

// NewInvoker wires the two backend adapters and the shared folder
// cache.
func NewInvoker(google, dropbox storage.Adapter, cache *storage.FolderCache, log *slog.Logger) *Invoker {
	if cache == nil {
		cache = storage.NewFolderCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Invoker{
		adapters: map[storage.Backend]storage.Adapter{
			storage.BackendGoogle:  google,
			storage.BackendDropbox: dropbox,
		},
		cache: cache,
		log:   log,
	}
}

// Execute runs one tool call against the resolved backend and returns
// the result text.
func (inv *Invoker) Execute(ctx context.Context, tool string, backend storage.Backend, args Args) string {
	inv.log.Debug("executing tool", "tool", tool, "backend", backend.String())

	switch tool {
	case ToolListFiles:
		return inv.listFiles(ctx, backend, args.String("folder_id"), args.String("folder_name"))
	case ToolSearchFiles:
		return inv.searchFiles(ctx, backend, strings.ToLower(args.String("query")), args.String("folder_id"), args.String("folder_name"))
	case ToolGetFile:
		return inv.getFile(ctx, backend, args.String("file_id"), args.String("file_path"))
	case ToolSummarizeFile:
		return inv.summarizeFile(ctx, backend, args.String("file_id"), args.String("file_path"))
	default:
		return fmt.Sprintf("Unknown tool: %s", tool)
	}
}

func (inv *Invoker) listFiles(ctx context.Context, backend storage.Backend, folderID, folderName string) string {
	adapter := inv.adapters[backend]

	if folderName != "" {
		id, errText := inv.findFolder(ctx, adapter, folderName)
		if errText != "" {
			return errText
		}
		folderID = id
	} else if backend == storage.BackendDropbox && folderID != "" {
		folderID = normalizeDropboxPath(folderID)
	}

	if folderID == "" {
		return inv.listTopLevel(ctx, adapter)
	}

	entries, err := adapter.List(ctx, folderID)
	if err != nil {
		return renderError(backend, fmt.Sprintf("listing folder '%s'", folderID), folderID, err)
	}

	var sb strings.Builder
	if backend == storage.BackendDropbox {
		fmt.Fprintf(&sb, "%s\nDropbox Folder: %s\n\n", backend.Marker(), folderID)
		if len(entries) == 0 {
			sb.WriteString("This folder is empty.\n")
			return sb.String()
		}
		sb.WriteString("Files:\n")
		for _, e := range entries {
			fmt.Fprintf(&sb, "- %s\n", e.Name)
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, "%s\nGoogle Folder: %s\n", backend.Marker(), folderID)
	if len(entries) == 0 {
		sb.WriteString("This folder is empty.\n")
		return sb.String()
	}
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s (ID: %s)\n", e.Name, e.ID)
	}
	return sb.String()
}

// listTopLevel renders the no-folder case: the discovery set of
// top-level folders (plus root files for Dropbox) so the model can pick
// one by ID or name.
func (inv *Invoker) listTopLevel(ctx context.Context, adapter storage.Adapter) string {
	backend := adapter.Backend()

	folders, err := inv.cache.Folders(ctx, adapter)
	if err != nil {
		return renderError(backend, "listing folders", "", err)
	}

	if backend == storage.BackendDropbox {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s\nDropbox Root Contents:\n\n", backend.Marker())

		if len(folders) > 0 {
			sb.WriteString("Folders:\n")
			for _, f := range folders {
				fmt.Fprintf(&sb, "- %s (Use folder_id: '%s' to open)\n", f.Name, f.ID)
			}
		}

		files, err := adapter.List(ctx, "")
		if err == nil && len(files) > 0 {
			sb.WriteString("\nFiles:\n")
			for _, e := range files {
				fmt.Fprintf(&sb, "- %s\n", e.Name)
			}
		}

		if len(folders) == 0 && (err != nil || len(files) == 0) {
			sb.WriteString("Root folder is empty.\n")
		}
		return sb.String()
	}

	if len(folders) == 0 {
		return backend.Marker() + "\nNo folders found in Google Drive."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\nFirst 5 Google Drive folders:\n\n", backend.Marker())
	for _, f := range folders {
		fmt.Fprintf(&sb, "- %s (ID: %s)\n", f.Name, f.ID)
	}
	return sb.String()
}

func (inv *Invoker) searchFiles(ctx context.Context, backend storage.Backend, query, folderID, folderName string) string {
	adapter := inv.adapters[backend]

	if folderName != "" {
		id, errText := inv.findFolder(ctx, adapter, folderName)
		if errText != "" {
			return errText
		}
		folderID = id
	} else if backend == storage.BackendDropbox && folderID != "" {
		folderID = normalizeDropboxPath(folderID)
	}

	// Drive searches need a folder; show the discovery set so the model
	// can retry scoped. Dropbox searches fall through to the root.
	if folderID == "" && backend == storage.BackendGoogle {
		listing := inv.listTopLevel(ctx, adapter)
		return listing + "\nPlease specify a folder to search."
	}

	entries, err := adapter.Search(ctx, query, folderID)
	if err != nil {
		return renderError(backend, fmt.Sprintf("searching for '%s'", query), folderID, err)
	}

	var sb strings.Builder
	if backend == storage.BackendDropbox {
		if folderID == "" {
			if len(entries) == 0 {
				return fmt.Sprintf("%s\nNo root Dropbox files match '%s'.", backend.Marker(), query)
			}
			fmt.Fprintf(&sb, "%s\nDropbox Root Search Results:\n\n", backend.Marker())
		} else {
			if len(entries) == 0 {
				return fmt.Sprintf("%s\nNo Dropbox files in '%s' match '%s'.", backend.Marker(), folderID, query)
			}
			fmt.Fprintf(&sb, "%s\nDropbox Folder Search: %s\n\n", backend.Marker(), folderID)
		}
		for _, e := range entries {
			fmt.Fprintf(&sb, "- %s (Path: %s)\n", e.Name, e.Path)
		}
		return sb.String()
	}

	if len(entries) == 0 {
		return backend.Marker() + "\nNo matching files found."
	}
	fmt.Fprintf(&sb, "%s\nGoogle Folder: %s\n", backend.Marker(), folderID)
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s (ID: %s, Type: %s)\n", e.Name, e.ID, e.MimeType)
	}
	return sb.String()
}

func (inv *Invoker) getFile(ctx context.Context, backend storage.Backend, fileID, filePath string) string {
	ref, errText := fileRef(backend, fileID, filePath)
	if errText != "" {
		return errText
	}

	file, err := inv.adapters[backend].Download(ctx, ref)
	if err != nil {
		return renderError(backend, fmt.Sprintf("reading file '%s'", ref), ref, err)
	}

	text, ok := extractText(file, false)
	if !ok {
		return fmt.Sprintf("%s\nUnsupported %s file type: %s", backend.Marker(), backend.DisplayName(), file.Name)
	}

	return fmt.Sprintf("%s\n[%s File: %s]\n\n%s", backend.Marker(), backend.DisplayName(), file.Name, text)
}

func (inv *Invoker) summarizeFile(ctx context.Context, backend storage.Backend, fileID, filePath string) string {
	ref, errText := fileRef(backend, fileID, filePath)
	if errText != "" {
		return errText
	}

	file, err := inv.adapters[backend].Download(ctx, ref)
	if err != nil {
		return renderError(backend, fmt.Sprintf("reading file '%s'", ref), ref, err)
	}

	text, ok := extractText(file, true)
	if !ok {
		return fmt.Sprintf("%s\nUnsupported file type: %s. Only .txt and .docx are supported.", backend.Marker(), file.Name)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Sprintf("%s\nThe file '%s' contains no readable text.", backend.Marker(), file.Name)
	}

	return fmt.Sprintf("%s\nFile: %s\nBackend: %s\nContent:\n\n%s", backend.Marker(), file.Name, backend.String(), text)
}

// fileRef picks the backend's file reference and validates presence.
func fileRef(backend storage.Backend, fileID, filePath string) (string, string) {
	if backend == storage.BackendDropbox {
		if filePath == "" {
			return "", backend.Marker() + "\nfile_path is required for Dropbox files"
		}
		return normalizeDropboxPath(filePath), ""
	}
	if fileID == "" {
		return "", backend.Marker() + "\nfile_id is required for Google Drive files"
	}
	return fileID, ""
}

// extractText decodes supported file content. Summarize is stricter
// than get: it takes only .txt and .docx, while get also accepts
// Markdown.
func extractText(file *storage.File, summarize bool) (string, bool) {
	name := strings.ToLower(file.Name)

	switch {
	case file.MimeType == "text/plain" || strings.HasSuffix(name, ".txt"):
		return string(file.Data), true
	case !summarize && (file.MimeType == "text/markdown" || strings.HasSuffix(name, ".md")):
		return string(file.Data), true
	case strings.HasSuffix(name, ".docx"):
		text, err := docx.Extract(file.Data)
		if err != nil {
			return "", false
		}
		return text, true
	default:
		return "", false
	}
}

// findFolder resolves a human-readable folder name against the
// backend's discovery set by exact case-insensitive match. On a miss
// the result enumerates the available names so the model can retry.
func (inv *Invoker) findFolder(ctx context.Context, adapter storage.Adapter, name string) (string, string) {
	backend := adapter.Backend()

	folders, err := inv.cache.Folders(ctx, adapter)
	if err != nil {
		return "", renderError(backend, "listing folders", "", err)
	}

	for _, f := range folders {
		if strings.EqualFold(f.Name, name) {
			return f.ID, ""
		}
	}

	names := make([]string, len(folders))
	for i, f := range folders {
		names[i] = f.Name
	}
	return "", fmt.Sprintf("%s\nFolder '%s' not found. Available: %s",
		backend.Marker(), name, strings.Join(names, ", "))
}

// normalizeDropboxPath trims, prefixes a slash, and lowercases a path
// to match Dropbox's path_lower identifiers.
func normalizeDropboxPath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(p)
}

// renderError converts a classified adapter error into result text the
// model can act on.
func renderError(backend storage.Backend, action, ref string, err error) string {
	var serr *storage.Error
	if errors.As(err, &serr) {
		switch serr.Kind {
		case storage.KindAuth:
			return fmt.Sprintf("%s\n%s authentication error: %s", backend.Marker(), backend.DisplayName(), serr.Message)
		case storage.KindConnectivity:
			return fmt.Sprintf("%s\nError connecting to %s: %v", backend.Marker(), backend.DisplayName(), err)
		case storage.KindNotFound:
			return fmt.Sprintf("%s\nError: '%s' not found or inaccessible.", backend.Marker(), ref)
		}
	}
	return fmt.Sprintf("%s\nError %s: %v", backend.Marker(), action, err)
}

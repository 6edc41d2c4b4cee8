package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"skiff/internal/httpkit"
)

const (
	dropboxAPIBase     = "https://api.dropboxapi.com/2"
	dropboxContentBase = "https://content.dropboxapi.com/2"
)

// DropboxAdapter talks to the Dropbox HTTP API v2 with a long-lived
// access token.
type DropboxAdapter struct {
	client      *http.Client
	token       string
	apiBase     string
	contentBase string
}

// NewDropboxAdapter builds a Dropbox adapter on the shared HTTP client.
func NewDropboxAdapter(accessToken string) *DropboxAdapter {
	return &DropboxAdapter{
		client:      httpkit.NewClient(),
		token:       accessToken,
		apiBase:     dropboxAPIBase,
		contentBase: dropboxContentBase,
	}
}

// Backend reports BackendDropbox.
func (d *DropboxAdapter) Backend() Backend { return BackendDropbox }

type dropboxEntry struct {
	Tag       string `json:".tag"`
	Name      string `json:"name"`
	PathLower string `json:"path_lower"`
}

type dropboxListResult struct {
	Entries []dropboxEntry `json:"entries"`
}

// Folders returns the first five top-level folders. Dropbox has no
// modification ordering for folders, so listing order is used. Folder
// IDs are lowercase paths with a leading slash.
func (d *DropboxAdapter) Folders(ctx context.Context) ([]Folder, error) {
	result, err := d.listFolder(ctx, "")
	if err != nil {
		return nil, err
	}

	var folders []Folder
	for _, e := range result.Entries {
		if e.Tag != "folder" {
			continue
		}
		folders = append(folders, Folder{ID: e.PathLower, Name: e.Name})
		if len(folders) == 5 {
			break
		}
	}
	return folders, nil
}

// List returns up to 10 files in a folder, or at the root when folderID
// is empty. folderID is a lowercase Dropbox path.
func (d *DropboxAdapter) List(ctx context.Context, folderID string) ([]Entry, error) {
	result, err := d.listFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, e := range result.Entries {
		if e.Tag != "file" {
			continue
		}
		entries = append(entries, dropboxFileEntry(e))
		if len(entries) == 10 {
			break
		}
	}
	return entries, nil
}

// Search returns up to 10 files whose names match query, optionally
// scoped to a folder path.
func (d *DropboxAdapter) Search(ctx context.Context, query, folderID string) ([]Entry, error) {
	options := map[string]any{
		"max_results":   10,
		"filename_only": true,
	}
	if folderID != "" {
		options["path"] = folderID
	}

	var result struct {
		Matches []struct {
			Metadata struct {
				Metadata dropboxEntry `json:"metadata"`
			} `json:"metadata"`
		} `json:"matches"`
	}
	if err := d.rpc(ctx, "/files/search_v2", map[string]any{
		"query":   query,
		"options": options,
	}, &result); err != nil {
		return nil, err
	}

	var entries []Entry
	for _, m := range result.Matches {
		e := m.Metadata.Metadata
		if e.Tag != "file" {
			continue
		}
		entries = append(entries, dropboxFileEntry(e))
		if len(entries) == 10 {
			break
		}
	}
	return entries, nil
}

// Download fetches file content by path.
func (d *DropboxAdapter) Download(ctx context.Context, fileID string) (*File, error) {
	if d.token == "" {
		return nil, NewError(BackendDropbox, KindAuth, "no Dropbox access token configured", nil)
	}

	arg, err := json.Marshal(map[string]string{"path": fileID})
	if err != nil {
		return nil, NewError(BackendDropbox, KindAPI, "encoding download arg", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.contentBase+"/files/download", nil)
	if err != nil {
		return nil, NewError(BackendDropbox, KindAPI, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, NewError(BackendDropbox, KindConnectivity, "reaching Dropbox", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, classifyDropboxStatus(resp.StatusCode, body)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, NewError(BackendDropbox, KindConnectivity, "reading response", err)
	}

	var meta dropboxEntry
	if hdr := resp.Header.Get("Dropbox-API-Result"); hdr != "" {
		_ = json.Unmarshal([]byte(hdr), &meta)
	}
	name := meta.Name
	if name == "" {
		name = fileID
	}

	return &File{Name: name, MimeType: mimeFromName(name), Data: data}, nil
}

func (d *DropboxAdapter) listFolder(ctx context.Context, path string) (*dropboxListResult, error) {
	var result dropboxListResult
	if err := d.rpc(ctx, "/files/list_folder", map[string]any{"path": path}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// rpc posts a JSON body to an api.dropboxapi.com endpoint and decodes
// the JSON response into out.
func (d *DropboxAdapter) rpc(ctx context.Context, path string, body any, out any) error {
	if d.token == "" {
		return NewError(BackendDropbox, KindAuth, "no Dropbox access token configured", nil)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(BackendDropbox, KindAPI, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return NewError(BackendDropbox, KindAPI, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return NewError(BackendDropbox, KindConnectivity, "reaching Dropbox", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return classifyDropboxStatus(resp.StatusCode, errBody)
	}

	data, err := readBody(resp)
	if err != nil {
		return NewError(BackendDropbox, KindConnectivity, "reading response", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewError(BackendDropbox, KindAPI, "decoding response", err)
	}
	return nil
}

func classifyDropboxStatus(status int, body string) *Error {
	msg := fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(body))
	switch {
	case status == http.StatusUnauthorized:
		return NewError(BackendDropbox, KindAuth, msg, nil)
	case status == http.StatusConflict && strings.Contains(body, "not_found"):
		return NewError(BackendDropbox, KindNotFound, msg, nil)
	default:
		return NewError(BackendDropbox, KindAPI, msg, nil)
	}
}

func dropboxFileEntry(e dropboxEntry) Entry {
	return Entry{
		ID:       e.PathLower,
		Name:     e.Name,
		MimeType: mimeFromName(e.Name),
		Path:     e.PathLower,
		IsFolder: false,
	}
}

// mimeFromName maps the file extensions the assistant can read to MIME
// types. Dropbox does not report MIME types, so this is by extension.
func mimeFromName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".txt"):
		return "text/plain"
	case strings.HasSuffix(lower, ".md"):
		return "text/markdown"
	case strings.HasSuffix(lower, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

// readBody reads a successful response body and closes it.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

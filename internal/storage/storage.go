// Package storage provides adapters for the cloud storage backends the
// assistant can browse. Each adapter speaks its provider's HTTP API and
// returns structured entries with classified errors; rendering for the
// model happens upstream in the agent package.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Backend identifies a cloud storage provider.
type Backend int

const (
	// BackendGoogle is Google Drive.
	BackendGoogle Backend = iota
	// BackendDropbox is Dropbox.
	BackendDropbox
)

// String returns the canonical lowercase backend name.
func (b Backend) String() string {
	switch b {
	case BackendDropbox:
		return "dropbox"
	default:
		return "google"
	}
}

// DisplayName returns the human-facing backend name.
func (b Backend) DisplayName() string {
	switch b {
	case BackendDropbox:
		return "Dropbox"
	default:
		return "Google Drive"
	}
}

// Marker returns the provenance marker prefixed to every tool result so
// later turns can tell which backend produced it.
func (b Backend) Marker() string {
	return "[Backend: " + b.DisplayName() + "]"
}

// ParseBackend parses a backend name. It accepts the canonical names and
// is case-insensitive; anything else is an error.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google", "google drive", "drive":
		return BackendGoogle, nil
	case "dropbox":
		return BackendDropbox, nil
	default:
		return BackendGoogle, fmt.Errorf("unknown backend %q", s)
	}
}

// Folder is a browsable folder within a backend.
type Folder struct {
	ID   string
	Name string
}

// Entry is a file or folder listed by a backend.
type Entry struct {
	ID       string
	Name     string
	MimeType string
	Path     string
	IsFolder bool
}

// File is downloaded file content.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// ErrorKind classifies adapter failures so callers can render them for
// the model without inspecting provider-specific payloads.
type ErrorKind int

const (
	// KindAPI is a generic provider API failure.
	KindAPI ErrorKind = iota
	// KindAuth means credentials are missing, expired, or rejected.
	KindAuth
	// KindConnectivity means the provider could not be reached.
	KindConnectivity
	// KindNotFound means the requested file or folder does not exist.
	KindNotFound
	// KindUnsupported means the file type cannot be read as text.
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindConnectivity:
		return "connectivity"
	case KindNotFound:
		return "not_found"
	case KindUnsupported:
		return "unsupported"
	default:
		return "api"
	}
}

// Error is a classified adapter failure.
type Error struct {
	Backend Backend
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified adapter error.
func NewError(backend Backend, kind ErrorKind, msg string, err error) *Error {
	return &Error{Backend: backend, Kind: kind, Message: msg, Err: err}
}

// Adapter is the per-backend storage interface. Implementations classify
// failures into *Error so the agent can explain them to the model.
type Adapter interface {
	// Backend reports which provider this adapter talks to.
	Backend() Backend

	// Folders returns the first few top-level folders, most recently
	// modified first where the provider supports ordering.
	Folders(ctx context.Context) ([]Folder, error)

	// List returns files in a folder, or top-level files when folderID
	// is empty. At most 10 entries.
	List(ctx context.Context, folderID string) ([]Entry, error)

	// Search returns files whose names match query, optionally scoped to
	// a folder. At most 10 entries.
	Search(ctx context.Context, query, folderID string) ([]Entry, error)

	// Download fetches file content by ID, exporting to plain text where
	// the provider supports it (Google Docs).
	Download(ctx context.Context, fileID string) (*File, error)
}

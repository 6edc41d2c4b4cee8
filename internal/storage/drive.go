package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"skiff/internal/httpkit"
)

const (
	driveAPIBase = "https://www.googleapis.com/drive/v3"

	// MIME type Drive uses for folders and native Docs.
	driveFolderMime = "application/vnd.google-apps.folder"
	driveDocMime    = "application/vnd.google-apps.document"
)

// googleEndpoint is Google's OAuth2 token endpoint. Declared here rather
// than pulled from a provider catalog package since only Drive uses it.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// DriveAdapter talks to the Google Drive v3 API using a long-lived
// refresh token. Access tokens are minted and refreshed automatically by
// the oauth2 transport.
type DriveAdapter struct {
	client  *http.Client
	baseURL string
}

// DriveCredentials holds the OAuth2 client credentials and the user's
// refresh token obtained out of band.
type DriveCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// NewDriveAdapter builds a Drive adapter. The oauth2 transport wraps the
// shared httpkit client so outbound calls keep its timeouts and headers.
func NewDriveAdapter(creds DriveCredentials) *DriveAdapter {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     googleEndpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/drive.readonly"},
	}

	base := context.WithValue(context.Background(), oauth2.HTTPClient, httpkit.NewClient())
	token := &oauth2.Token{RefreshToken: creds.RefreshToken}

	return &DriveAdapter{
		client:  oauth2.NewClient(base, conf.TokenSource(base, token)),
		baseURL: driveAPIBase,
	}
}

// Backend reports BackendGoogle.
func (d *DriveAdapter) Backend() Backend { return BackendGoogle }

type driveFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

type driveFileList struct {
	Files []driveFile `json:"files"`
}

// Folders returns the five most recently modified top-level folders.
func (d *DriveAdapter) Folders(ctx context.Context) ([]Folder, error) {
	q := fmt.Sprintf("mimeType = '%s' and trashed = false", driveFolderMime)
	list, err := d.listFiles(ctx, q, "modifiedTime desc", 5)
	if err != nil {
		return nil, err
	}

	folders := make([]Folder, 0, len(list.Files))
	for _, f := range list.Files {
		folders = append(folders, Folder{ID: f.ID, Name: f.Name})
	}
	return folders, nil
}

// List returns up to 10 files in a folder, or top-level files when
// folderID is empty.
func (d *DriveAdapter) List(ctx context.Context, folderID string) ([]Entry, error) {
	parent := "root"
	if folderID != "" {
		parent = folderID
	}
	q := fmt.Sprintf("'%s' in parents and trashed = false and mimeType != '%s'",
		escapeDriveQuery(parent), driveFolderMime)

	list, err := d.listFiles(ctx, q, "", 10)
	if err != nil {
		return nil, err
	}
	return driveEntries(list), nil
}

// Search returns up to 10 files whose names contain query, optionally
// scoped to a folder.
func (d *DriveAdapter) Search(ctx context.Context, query, folderID string) ([]Entry, error) {
	q := fmt.Sprintf("name contains '%s' and trashed = false and mimeType != '%s'",
		escapeDriveQuery(query), driveFolderMime)
	if folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeDriveQuery(folderID))
	}

	list, err := d.listFiles(ctx, q, "", 10)
	if err != nil {
		return nil, err
	}
	return driveEntries(list), nil
}

// Download fetches file content. Native Google Docs are exported as
// plain text; everything else is downloaded as stored.
func (d *DriveAdapter) Download(ctx context.Context, fileID string) (*File, error) {
	meta, err := d.fileMeta(ctx, fileID)
	if err != nil {
		return nil, err
	}

	var path string
	if meta.MimeType == driveDocMime {
		path = fmt.Sprintf("/files/%s/export?mimeType=%s",
			url.PathEscape(fileID), url.QueryEscape("text/plain"))
	} else {
		path = fmt.Sprintf("/files/%s?alt=media", url.PathEscape(fileID))
	}

	data, err := d.get(ctx, path)
	if err != nil {
		return nil, err
	}

	mime := meta.MimeType
	if meta.MimeType == driveDocMime {
		mime = "text/plain"
	}
	return &File{Name: meta.Name, MimeType: mime, Data: data}, nil
}

func (d *DriveAdapter) fileMeta(ctx context.Context, fileID string) (*driveFile, error) {
	data, err := d.get(ctx, fmt.Sprintf("/files/%s?fields=id,name,mimeType", url.PathEscape(fileID)))
	if err != nil {
		return nil, err
	}

	var meta driveFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, NewError(BackendGoogle, KindAPI, "decoding file metadata", err)
	}
	return &meta, nil
}

func (d *DriveAdapter) listFiles(ctx context.Context, query, orderBy string, pageSize int) (*driveFileList, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("pageSize", fmt.Sprintf("%d", pageSize))
	params.Set("fields", "files(id,name,mimeType)")
	if orderBy != "" {
		params.Set("orderBy", orderBy)
	}

	data, err := d.get(ctx, "/files?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var list driveFileList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, NewError(BackendGoogle, KindAPI, "decoding file list", err)
	}
	return &list, nil
}

func (d *DriveAdapter) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, NewError(BackendGoogle, KindAPI, "building request", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, NewError(BackendGoogle, KindAuth, "refreshing access token", err)
		}
		return nil, NewError(BackendGoogle, KindConnectivity, "reaching Google Drive", err)
	}

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, classifyDriveStatus(resp.StatusCode, body)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, NewError(BackendGoogle, KindConnectivity, "reading response", err)
	}
	return data, nil
}

func classifyDriveStatus(status int, body string) *Error {
	msg := fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(body))
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewError(BackendGoogle, KindAuth, msg, nil)
	case http.StatusNotFound:
		return NewError(BackendGoogle, KindNotFound, msg, nil)
	default:
		return NewError(BackendGoogle, KindAPI, msg, nil)
	}
}

func driveEntries(list *driveFileList) []Entry {
	entries := make([]Entry, 0, len(list.Files))
	for _, f := range list.Files {
		entries = append(entries, Entry{
			ID:       f.ID,
			Name:     f.Name,
			MimeType: f.MimeType,
			IsFolder: f.MimeType == driveFolderMime,
		})
	}
	return entries
}

// escapeDriveQuery escapes single quotes and backslashes for embedding
// in a Drive query string.
func escapeDriveQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

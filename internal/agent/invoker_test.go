package agent

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"skiff/internal/storage"
)

// stubAdapter is a scriptable storage.Adapter for invoker tests.
type stubAdapter struct {
	backend storage.Backend
	folders []storage.Folder
	entries []storage.Entry
	file    *storage.File
	err     error

	lastFolderID string
	lastQuery    string
	lastFileRef  string
}

func (s *stubAdapter) Backend() storage.Backend { return s.backend }

func (s *stubAdapter) Folders(ctx context.Context) ([]storage.Folder, error) {
	return s.folders, s.err
}

func (s *stubAdapter) List(ctx context.Context, folderID string) ([]storage.Entry, error) {
	s.lastFolderID = folderID
	return s.entries, s.err
}

func (s *stubAdapter) Search(ctx context.Context, query, folderID string) ([]storage.Entry, error) {
	s.lastQuery = query
	s.lastFolderID = folderID
	return s.entries, s.err
}

func (s *stubAdapter) Download(ctx context.Context, fileID string) (*storage.File, error) {
	s.lastFileRef = fileID
	return s.file, s.err
}

func newTestInvoker(google, dropbox *stubAdapter) *Invoker {
	return NewInvoker(google, dropbox, storage.NewFolderCache(), nil)
}

func TestExecute_EveryResultCarriesMarker(t *testing.T) {
	google := &stubAdapter{
		backend: storage.BackendGoogle,
		folders: []storage.Folder{{ID: "f1", Name: "Reports"}},
		entries: []storage.Entry{{ID: "a1", Name: "notes.txt", MimeType: "text/plain"}},
		file:    &storage.File{Name: "notes.txt", MimeType: "text/plain", Data: []byte("hello")},
	}
	dropbox := &stubAdapter{
		backend: storage.BackendDropbox,
		folders: []storage.Folder{{ID: "/reports", Name: "Reports"}},
		entries: []storage.Entry{{ID: "/a.txt", Name: "a.txt", Path: "/a.txt", MimeType: "text/plain"}},
		file:    &storage.File{Name: "a.txt", MimeType: "text/plain", Data: []byte("hi")},
	}
	inv := newTestInvoker(google, dropbox)

	calls := []struct {
		tool    string
		backend storage.Backend
		args    Args
	}{
		{ToolListFiles, storage.BackendGoogle, Args{}},
		{ToolListFiles, storage.BackendDropbox, Args{"folder_id": "/reports"}},
		{ToolSearchFiles, storage.BackendGoogle, Args{"query": "notes", "folder_id": "f1"}},
		{ToolSearchFiles, storage.BackendDropbox, Args{"query": "a"}},
		{ToolGetFile, storage.BackendGoogle, Args{"file_id": "a1"}},
		{ToolGetFile, storage.BackendDropbox, Args{"file_path": "/a.txt"}},
		{ToolSummarizeFile, storage.BackendGoogle, Args{"file_id": "a1"}},
		{ToolSummarizeFile, storage.BackendDropbox, Args{"file_path": "/a.txt"}},
	}

	for _, c := range calls {
		got := inv.Execute(context.Background(), c.tool, c.backend, c.args)
		if !strings.Contains(got, c.backend.Marker()) {
			t.Errorf("%s on %s missing marker %q:\n%s", c.tool, c.backend, c.backend.Marker(), got)
		}
	}
}

func TestListFiles_NoFolderShowsDiscoverySet(t *testing.T) {
	google := &stubAdapter{
		backend: storage.BackendGoogle,
		folders: []storage.Folder{{ID: "f1", Name: "Reports"}, {ID: "f2", Name: "Photos"}},
	}
	inv := newTestInvoker(google, &stubAdapter{backend: storage.BackendDropbox})

	got := inv.Execute(context.Background(), ToolListFiles, storage.BackendGoogle, Args{})
	if !strings.Contains(got, "First 5 Google Drive folders") {
		t.Errorf("missing discovery heading:\n%s", got)
	}
	if !strings.Contains(got, "Reports (ID: f1)") || !strings.Contains(got, "Photos (ID: f2)") {
		t.Errorf("missing folder lines:\n%s", got)
	}
}

func TestListFiles_FolderNameResolution(t *testing.T) {
	google := &stubAdapter{
		backend: storage.BackendGoogle,
		folders: []storage.Folder{{ID: "f1", Name: "Reports"}},
		entries: []storage.Entry{{ID: "a1", Name: "q1.txt"}},
	}
	inv := newTestInvoker(google, &stubAdapter{backend: storage.BackendDropbox})

	// Exact case-insensitive match resolves to the folder's ID.
	got := inv.Execute(context.Background(), ToolListFiles, storage.BackendGoogle, Args{"folder_name": "reports"})
	if google.lastFolderID != "f1" {
		t.Errorf("listed folder %q, want f1", google.lastFolderID)
	}
	if !strings.Contains(got, "q1.txt") {
		t.Errorf("missing file line:\n%s", got)
	}
}

func TestListFiles_FolderNameMissEnumeratesAvailable(t *testing.T) {
	google := &stubAdapter{
		backend: storage.BackendGoogle,
		folders: []storage.Folder{{ID: "f1", Name: "Reports"}, {ID: "f2", Name: "Photos"}},
	}
	inv := newTestInvoker(google, &stubAdapter{backend: storage.BackendDropbox})

	got := inv.Execute(context.Background(), ToolListFiles, storage.BackendGoogle, Args{"folder_name": "Recipts"})
	if !strings.Contains(got, "Folder 'Recipts' not found") {
		t.Errorf("missing not-found line:\n%s", got)
	}
	if !strings.Contains(got, "Reports") || !strings.Contains(got, "Photos") {
		t.Errorf("available names not enumerated:\n%s", got)
	}
}

func TestListFiles_NormalizesDropboxPath(t *testing.T) {
	dropbox := &stubAdapter{backend: storage.BackendDropbox}
	inv := newTestInvoker(&stubAdapter{backend: storage.BackendGoogle}, dropbox)

	inv.Execute(context.Background(), ToolListFiles, storage.BackendDropbox, Args{"folder_id": "Reports"})
	if dropbox.lastFolderID != "/reports" {
		t.Errorf("folder_id normalized to %q, want /reports", dropbox.lastFolderID)
	}
}

func TestSearchFiles_GoogleWithoutFolderAsksForOne(t *testing.T) {
	google := &stubAdapter{
		backend: storage.BackendGoogle,
		folders: []storage.Folder{{ID: "f1", Name: "Reports"}},
	}
	inv := newTestInvoker(google, &stubAdapter{backend: storage.BackendDropbox})

	got := inv.Execute(context.Background(), ToolSearchFiles, storage.BackendGoogle, Args{"query": "q1"})
	if !strings.Contains(got, "Please specify a folder to search.") {
		t.Errorf("missing folder prompt:\n%s", got)
	}
	if google.lastQuery != "" {
		t.Errorf("search ran without a folder: query %q", google.lastQuery)
	}
}

func TestSearchFiles_DropboxRoot(t *testing.T) {
	dropbox := &stubAdapter{
		backend: storage.BackendDropbox,
		entries: []storage.Entry{{Name: "plan.txt", Path: "/plan.txt"}},
	}
	inv := newTestInvoker(&stubAdapter{backend: storage.BackendGoogle}, dropbox)

	got := inv.Execute(context.Background(), ToolSearchFiles, storage.BackendDropbox, Args{"query": "Plan"})
	if dropbox.lastQuery != "plan" {
		t.Errorf("query = %q, want lowercased plan", dropbox.lastQuery)
	}
	if !strings.Contains(got, "Dropbox Root Search Results") || !strings.Contains(got, "plan.txt (Path: /plan.txt)") {
		t.Errorf("unexpected result:\n%s", got)
	}
}

func TestSearchFiles_NoMatches(t *testing.T) {
	google := &stubAdapter{backend: storage.BackendGoogle}
	inv := newTestInvoker(google, &stubAdapter{backend: storage.BackendDropbox})

	got := inv.Execute(context.Background(), ToolSearchFiles, storage.BackendGoogle, Args{"query": "zzz", "folder_id": "f1"})
	if !strings.Contains(got, "No matching files found.") {
		t.Errorf("unexpected result:\n%s", got)
	}
}

func TestGetFile_MissingRef(t *testing.T) {
	inv := newTestInvoker(
		&stubAdapter{backend: storage.BackendGoogle},
		&stubAdapter{backend: storage.BackendDropbox},
	)

	got := inv.Execute(context.Background(), ToolGetFile, storage.BackendGoogle, Args{})
	if !strings.Contains(got, "file_id is required") {
		t.Errorf("unexpected result:\n%s", got)
	}

	got = inv.Execute(context.Background(), ToolGetFile, storage.BackendDropbox, Args{})
	if !strings.Contains(got, "file_path is required") {
		t.Errorf("unexpected result:\n%s", got)
	}
}

func TestGetFile_UnsupportedType(t *testing.T) {
	google := &stubAdapter{
		backend: storage.BackendGoogle,
		file:    &storage.File{Name: "photo.jpg", MimeType: "image/jpeg", Data: []byte{0xff}},
	}
	inv := newTestInvoker(google, &stubAdapter{backend: storage.BackendDropbox})

	got := inv.Execute(context.Background(), ToolGetFile, storage.BackendGoogle, Args{"file_id": "x"})
	if !strings.Contains(got, "Unsupported Google Drive file type") {
		t.Errorf("unexpected result:\n%s", got)
	}
}

func TestGetFile_MarkdownAllowedButNotForSummarize(t *testing.T) {
	md := &storage.File{Name: "readme.md", MimeType: "text/markdown", Data: []byte("# Title")}
	google := &stubAdapter{backend: storage.BackendGoogle, file: md}
	inv := newTestInvoker(google, &stubAdapter{backend: storage.BackendDropbox})

	got := inv.Execute(context.Background(), ToolGetFile, storage.BackendGoogle, Args{"file_id": "x"})
	if !strings.Contains(got, "# Title") {
		t.Errorf("get_file should read markdown:\n%s", got)
	}

	got = inv.Execute(context.Background(), ToolSummarizeFile, storage.BackendGoogle, Args{"file_id": "x"})
	if !strings.Contains(got, "Only .txt and .docx are supported") {
		t.Errorf("summarize_file should reject markdown:\n%s", got)
	}
}

func TestSummarizeFile_EmptyText(t *testing.T) {
	google := &stubAdapter{
		backend: storage.BackendGoogle,
		file:    &storage.File{Name: "blank.txt", MimeType: "text/plain", Data: []byte("   \n")},
	}
	inv := newTestInvoker(google, &stubAdapter{backend: storage.BackendDropbox})

	got := inv.Execute(context.Background(), ToolSummarizeFile, storage.BackendGoogle, Args{"file_id": "x"})
	if !strings.Contains(got, "contains no readable text") {
		t.Errorf("unexpected result:\n%s", got)
	}
}

func TestGetFile_Docx(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("word/document.xml")
	f.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>Quarterly numbers</w:t></w:r></w:p></w:body></w:document>`))
	w.Close()

	dropbox := &stubAdapter{
		backend: storage.BackendDropbox,
		file: &storage.File{
			Name:     "report.docx",
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Data:     buf.Bytes(),
		},
	}
	inv := newTestInvoker(&stubAdapter{backend: storage.BackendGoogle}, dropbox)

	got := inv.Execute(context.Background(), ToolGetFile, storage.BackendDropbox, Args{"file_path": "/report.docx"})
	if !strings.Contains(got, "Quarterly numbers") {
		t.Errorf("docx text not extracted:\n%s", got)
	}
}

func TestExecute_AdapterErrorsBecomeText(t *testing.T) {
	tests := []struct {
		name string
		err  *storage.Error
		want string
	}{
		{"auth", storage.NewError(storage.BackendDropbox, storage.KindAuth, "token rejected", nil), "authentication error"},
		{"connectivity", storage.NewError(storage.BackendDropbox, storage.KindConnectivity, "", nil), "Error connecting to Dropbox"},
		{"not found", storage.NewError(storage.BackendDropbox, storage.KindNotFound, "", nil), "not found or inaccessible"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dropbox := &stubAdapter{backend: storage.BackendDropbox, err: tt.err}
			inv := newTestInvoker(&stubAdapter{backend: storage.BackendGoogle}, dropbox)

			got := inv.Execute(context.Background(), ToolListFiles, storage.BackendDropbox, Args{"folder_id": "/x"})
			if !strings.Contains(got, tt.want) {
				t.Errorf("result %q missing %q", got, tt.want)
			}
			if !strings.Contains(got, storage.BackendDropbox.Marker()) {
				t.Errorf("error result missing marker:\n%s", got)
			}
		})
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	inv := newTestInvoker(
		&stubAdapter{backend: storage.BackendGoogle},
		&stubAdapter{backend: storage.BackendDropbox},
	)

	got := inv.Execute(context.Background(), "delete_everything", storage.BackendGoogle, Args{})
	if !strings.Contains(got, "Unknown tool") {
		t.Errorf("unexpected result: %q", got)
	}
}

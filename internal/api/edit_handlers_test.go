package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/onnwee/gramfront/internal/apiclient"
	"github.com/onnwee/gramfront/internal/middleware"
	"github.com/onnwee/gramfront/internal/preview"
	"github.com/onnwee/gramfront/internal/session"
	"github.com/onnwee/gramfront/internal/upload"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

type fakePostAPI struct {
	mu      sync.Mutex
	post    apiclient.Post
	getErr  error
	saveErr error

	savedID      string
	savedTitle   string
	savedContent string
	savedRefs    []string
	saves        int
}

func (f *fakePostAPI) GetPost(_ context.Context, postID string) (apiclient.Post, error) {
	return f.post, f.getErr
}

func (f *fakePostAPI) UpdatePost(_ context.Context, postID, title, content string, imageRefs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedID, f.savedTitle, f.savedContent, f.savedRefs = postID, title, content, imageRefs
	return nil
}

type fakeBatchUploader struct {
	mu      sync.Mutex
	err     error
	batches [][]upload.Object
}

func (u *fakeBatchUploader) Upload(_ context.Context, objects []upload.Object) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.batches = append(u.batches, objects)
	if u.err != nil {
		return nil, u.err
	}
	refs := make([]string, len(objects))
	for i, o := range objects {
		refs[i] = "https://cdn.example.com/" + o.Filename
	}
	return refs, nil
}

type editFixture struct {
	mux      *http.ServeMux
	posts    *fakePostAPI
	uploader *fakeBatchUploader
	previews *preview.Store
	sessions *session.Registry
}

func newEditFixture(t *testing.T, originals ...string) *editFixture {
	t.Helper()
	if originals == nil {
		originals = []string{}
	}
	f := &editFixture{
		mux:      http.NewServeMux(),
		posts:    &fakePostAPI{post: apiclient.Post{Title: "Sunset", Content: "at the beach", ImageURLs: originals}},
		uploader: &fakeBatchUploader{},
		previews: preview.NewStore(nil, nil),
		sessions: session.NewRegistry(0),
	}
	h := NewEditHandlers(f.posts, f.uploader, f.sessions, f.previews, EditConfig{MaxFiles: 3, MaxFileBytes: 1024})
	f.mux.HandleFunc("POST /posts/{postId}/edit", h.Open)
	f.mux.HandleFunc("GET /edit/{sid}", h.Get)
	f.mux.HandleFunc("PATCH /edit/{sid}", h.UpdateText)
	f.mux.HandleFunc("DELETE /edit/{sid}", h.Cancel)
	f.mux.HandleFunc("POST /edit/{sid}/files", h.AttachFiles)
	f.mux.HandleFunc("DELETE /edit/{sid}/files/{index}", h.RemoveFile)
	f.mux.HandleFunc("DELETE /edit/{sid}/originals/{index}", h.RemoveOriginal)
	f.mux.HandleFunc("POST /edit/{sid}/files/swap", h.SwapFiles)
	f.mux.HandleFunc("POST /edit/{sid}/originals/swap", h.SwapOriginals)
	f.mux.HandleFunc("POST /edit/{sid}/commit", h.Commit)
	return f
}

func (f *editFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, target, nil)
	case *multipartBody:
		req = httptest.NewRequest(method, target, &b.buf)
		req.Header.Set("Content-Type", b.contentType)
	default:
		data, _ := json.Marshal(b)
		req = httptest.NewRequest(method, target, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func (f *editFixture) open(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/posts/42/edit", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeSession(t, w).SessionID
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) EditSessionResponse {
	t.Helper()
	var resp EditSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode session: %v (%s)", err, w.Body.String())
	}
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error: %v (%s)", err, w.Body.String())
	}
	return resp.Error.Code
}

type multipartBody struct {
	buf         bytes.Buffer
	contentType string
}

type formFile struct {
	name        string
	contentType string
	data        []byte
}

func filesForm(t *testing.T, files ...formFile) *multipartBody {
	t.Helper()
	body := &multipartBody{}
	mw := multipart.NewWriter(&body.buf)
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		_, _ = part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}
	body.contentType = mw.FormDataContentType()
	return body
}

func png(name string) formFile {
	return formFile{name: name, contentType: "image/png", data: pngBytes}
}

func TestEdit_OpenReturnsDraft(t *testing.T) {
	f := newEditFixture(t, "https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg")
	w := f.do(t, http.MethodPost, "/posts/42/edit", nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	resp := decodeSession(t, w)
	if resp.SessionID == "" {
		t.Error("expected a session id")
	}
	if resp.PostID != "42" || resp.Title != "Sunset" || resp.Content != "at the beach" {
		t.Errorf("unexpected draft %+v", resp.View)
	}
	if len(resp.Originals) != 2 || len(resp.Files) != 0 {
		t.Errorf("expected 2 originals and no files, got %+v", resp.View)
	}
}

func TestEdit_OpenUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", apiclient.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"forbidden", apiclient.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
		{"server error", &apiclient.StatusError{StatusCode: 500}, http.StatusBadGateway, ErrCodeUpstreamError},
		{"network", errors.New("backend unavailable"), http.StatusBadGateway, ErrCodeUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEditFixture(t)
			f.posts.getErr = tt.err

			w := f.do(t, http.MethodPost, "/posts/42/edit", nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, code)
			}
			if f.sessions.Len() != 0 {
				t.Error("expected no session to be opened")
			}
		})
	}
}

func TestEdit_OpenRejectsInvalidPostID(t *testing.T) {
	f := newEditFixture(t)
	w := f.do(t, http.MethodPost, "/posts/abc/edit", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestEdit_FullFlowCommitsInOrder(t *testing.T) {
	f := newEditFixture(t, "o1", "o2")
	sid := f.open(t)
	base := "/edit/" + sid

	w := f.do(t, http.MethodPost, base+"/files", filesForm(t, png("p1.png"), png("p2.png")))
	if w.Code != http.StatusOK {
		t.Fatalf("attach: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	view := decodeSession(t, w)
	if len(view.Files) != 2 || view.Files[0].Name != "p1.png" || view.Files[0].Preview == "" {
		t.Fatalf("unexpected files %+v", view.Files)
	}
	if f.previews.Len() != 2 {
		t.Errorf("expected 2 live previews, got %d", f.previews.Len())
	}

	if w := f.do(t, http.MethodPost, base+"/originals/swap", map[string]int{"i": 0, "j": 1}); w.Code != http.StatusOK {
		t.Fatalf("swap originals: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, base+"/files/swap", map[string]int{"i": 0, "j": 1}); w.Code != http.StatusOK {
		t.Fatalf("swap files: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPatch, base, map[string]string{"title": "Sunrise"}); w.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, base+"/commit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("commit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var commit CommitResponse
	_ = json.Unmarshal(w.Body.Bytes(), &commit)
	if commit.Redirect != "/posts/42" {
		t.Errorf("expected redirect to /posts/42, got %q", commit.Redirect)
	}

	want := []string{"o2", "o1", "https://cdn.example.com/p2.png", "https://cdn.example.com/p1.png"}
	if strings.Join(f.posts.savedRefs, ",") != strings.Join(want, ",") {
		t.Errorf("expected refs %v, got %v", want, f.posts.savedRefs)
	}
	if f.posts.savedTitle != "Sunrise" || f.posts.savedContent != "at the beach" {
		t.Errorf("unexpected saved text %q / %q", f.posts.savedTitle, f.posts.savedContent)
	}
	if f.previews.Len() != 0 {
		t.Errorf("expected all previews released, got %d", f.previews.Len())
	}
	if w := f.do(t, http.MethodGet, base, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected session gone after commit, got %d", w.Code)
	}
}

func TestEdit_CommitWithoutFilesSkipsUpload(t *testing.T) {
	f := newEditFixture(t, "o1")
	sid := f.open(t)

	if w := f.do(t, http.MethodPost, "/edit/"+sid+"/commit", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(f.uploader.batches) != 0 {
		t.Errorf("expected no upload, got %d batches", len(f.uploader.batches))
	}
	if len(f.posts.savedRefs) != 1 || f.posts.savedRefs[0] != "o1" {
		t.Errorf("unexpected refs %v", f.posts.savedRefs)
	}
}

func TestEdit_CommitBlankTitleRejected(t *testing.T) {
	f := newEditFixture(t)
	sid := f.open(t)
	f.do(t, http.MethodPost, "/edit/"+sid+"/files", filesForm(t, png("p.png")))
	f.do(t, http.MethodPatch, "/edit/"+sid, map[string]string{"title": "   "})

	w := f.do(t, http.MethodPost, "/edit/"+sid+"/commit", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if code := errorCode(t, w); code != ErrCodeValidation {
		t.Errorf("expected validation error, got %s", code)
	}
	if len(f.uploader.batches) != 0 || f.posts.saves != 0 {
		t.Error("expected nothing uploaded or saved")
	}
}

func TestEdit_FailedCommitKeepsSession(t *testing.T) {
	tests := []struct {
		name      string
		uploadErr error
		saveErr   error
	}{
		{"upload fails", &upload.FileError{Index: 0, Filename: "p.png", Err: errors.New("rejected")}, nil},
		{"update fails", nil, &apiclient.StatusError{StatusCode: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEditFixture(t, "o1")
			f.uploader.err = tt.uploadErr
			f.posts.saveErr = tt.saveErr
			sid := f.open(t)
			f.do(t, http.MethodPost, "/edit/"+sid+"/files", filesForm(t, png("p.png")))

			w := f.do(t, http.MethodPost, "/edit/"+sid+"/commit", nil)
			if w.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d", w.Code)
			}
			if code := errorCode(t, w); code != ErrCodeCommitFailed {
				t.Errorf("expected commit_failed, got %s", code)
			}

			w = f.do(t, http.MethodGet, "/edit/"+sid, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("expected session to survive, got %d", w.Code)
			}
			view := decodeSession(t, w)
			if len(view.Originals) != 1 || len(view.Files) != 1 || view.Committing {
				t.Errorf("expected unchanged editable session, got %+v", view.View)
			}
			if f.previews.Len() != 1 {
				t.Errorf("expected preview kept, got %d", f.previews.Len())
			}
		})
	}
}

func TestEdit_IndexOutOfRange(t *testing.T) {
	f := newEditFixture(t, "o1")
	sid := f.open(t)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodDelete, "/edit/" + sid + "/originals/1", nil},
		{http.MethodDelete, "/edit/" + sid + "/files/0", nil},
		{http.MethodDelete, "/edit/" + sid + "/originals/-1", nil},
		{http.MethodPost, "/edit/" + sid + "/originals/swap", map[string]int{"i": 0, "j": 5}},
		{http.MethodPost, "/edit/" + sid + "/files/swap", map[string]int{"i": 0, "j": 0}},
	}
	for _, c := range cases {
		w := f.do(t, c.method, c.path, c.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", c.method, c.path, w.Code)
			continue
		}
		if code := errorCode(t, w); code != ErrCodeIndexOutOfRange {
			t.Errorf("%s %s: expected index_out_of_range, got %s", c.method, c.path, code)
		}
	}
}

func TestEdit_RemoveReleasesPreview(t *testing.T) {
	f := newEditFixture(t, "o1", "o2")
	sid := f.open(t)
	f.do(t, http.MethodPost, "/edit/"+sid+"/files", filesForm(t, png("p1.png"), png("p2.png")))

	w := f.do(t, http.MethodDelete, "/edit/"+sid+"/files/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	view := decodeSession(t, w)
	if len(view.Files) != 1 || view.Files[0].Name != "p2.png" {
		t.Errorf("unexpected files %+v", view.Files)
	}
	if f.previews.Len() != 1 {
		t.Errorf("expected removed file's preview released, got %d live", f.previews.Len())
	}

	w = f.do(t, http.MethodDelete, "/edit/"+sid+"/originals/0", nil)
	if view := decodeSession(t, w); len(view.Originals) != 1 || view.Originals[0] != "o2" {
		t.Errorf("unexpected originals %v", view.Originals)
	}
}

func TestEdit_AttachValidation(t *testing.T) {
	tests := []struct {
		name       string
		files      []formFile
		wantStatus int
		wantCode   string
	}{
		{"not an image", []formFile{{name: "a.txt", contentType: "text/plain", data: []byte("hello world")}}, http.StatusUnsupportedMediaType, ErrCodeUnsupportedType},
		{"type mismatch", []formFile{{name: "a.jpg", contentType: "image/jpeg", data: pngBytes}}, http.StatusUnsupportedMediaType, ErrCodeUnsupportedType},
		{"too large", []formFile{{name: "big.png", contentType: "image/png", data: append(pngBytes, make([]byte, 2048)...)}}, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge},
		{"empty", []formFile{{name: "e.png", contentType: "image/png", data: nil}}, http.StatusBadRequest, ErrCodeValidation},
		{"too many", []formFile{png("1.png"), png("2.png"), png("3.png"), png("4.png")}, http.StatusBadRequest, ErrCodeTooManyFiles},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEditFixture(t)
			sid := f.open(t)

			w := f.do(t, http.MethodPost, "/edit/"+sid+"/files", filesForm(t, tt.files...))
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, code)
			}
			if f.previews.Len() != 0 {
				t.Errorf("expected no previews for rejected files, got %d", f.previews.Len())
			}
		})
	}
}

func TestEdit_AttachRequiresFiles(t *testing.T) {
	f := newEditFixture(t)
	sid := f.open(t)

	w := f.do(t, http.MethodPost, "/edit/"+sid+"/files", filesForm(t))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty form, got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/edit/"+sid+"/files", map[string]string{"files": "nope"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-multipart body, got %d", w.Code)
	}
}

func TestEdit_CancelReleasesEverything(t *testing.T) {
	f := newEditFixture(t)
	sid := f.open(t)
	f.do(t, http.MethodPost, "/edit/"+sid+"/files", filesForm(t, png("p.png")))

	if w := f.do(t, http.MethodDelete, "/edit/"+sid, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if f.previews.Len() != 0 {
		t.Errorf("expected previews released, got %d", f.previews.Len())
	}
	if w := f.do(t, http.MethodGet, "/edit/"+sid, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after cancel, got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/edit/"+sid, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected second cancel to 404, got %d", w.Code)
	}
}

func TestEdit_SessionsScopedByOwner(t *testing.T) {
	f := newEditFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/posts/42/edit", nil)
	req = req.WithContext(middleware.SetUserID(req.Context(), "7"))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	sid := decodeSession(t, w).SessionID

	if w := f.do(t, http.MethodGet, "/edit/"+sid, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected another viewer to get 404, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/edit/"+sid, nil)
	req = req.WithContext(middleware.SetUserID(req.Context(), "7"))
	w = httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected owner to read session, got %d", w.Code)
	}
}

func TestEdit_UpdateTextKeepsOmittedFields(t *testing.T) {
	f := newEditFixture(t)
	sid := f.open(t)

	w := f.do(t, http.MethodPatch, "/edit/"+sid, map[string]string{"content": "new body"})
	view := decodeSession(t, w)
	if view.Title != "Sunset" || view.Content != "new body" {
		t.Errorf("unexpected text %q / %q", view.Title, view.Content)
	}

	w = f.do(t, http.MethodPost, "/edit/"+sid+"/files/swap", map[string]int{"i": 0})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != ErrCodeValidation {
		t.Errorf("expected validation error for missing j, got %d", w.Code)
	}
}

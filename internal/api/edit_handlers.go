package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/gramfront/internal/apiclient"
	"github.com/onnwee/gramfront/internal/editor"
	"github.com/onnwee/gramfront/internal/middleware"
	"github.com/onnwee/gramfront/internal/session"
	"github.com/onnwee/gramfront/internal/tracing"
	"github.com/onnwee/gramfront/internal/validate"
)

// multipartMemory is how much of an attach request is buffered in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

// multipartOverhead is allowed on top of the file bytes for form framing.
const multipartOverhead = 1 << 20

// PostAPI loads and saves posts on the social API.
type PostAPI interface {
	GetPost(ctx context.Context, postID string) (apiclient.Post, error)
	editor.PostUpdater
}

// EditConfig limits what a session accepts.
type EditConfig struct {
	MaxFiles     int
	MaxFileBytes int64
}

// EditHandlers serves post edit sessions.
type EditHandlers struct {
	posts       PostAPI
	uploader    editor.Uploader
	sessions    *session.Registry
	previews    editor.PreviewStore
	maxFiles    int
	constraints validate.FileConstraints
}

// NewEditHandlers creates edit session handlers.
func NewEditHandlers(posts PostAPI, uploader editor.Uploader, sessions *session.Registry, previews editor.PreviewStore, cfg EditConfig) *EditHandlers {
	return &EditHandlers{
		posts:       posts,
		uploader:    uploader,
		sessions:    sessions,
		previews:    previews,
		maxFiles:    cfg.MaxFiles,
		constraints: validate.ImageConstraints(cfg.MaxFileBytes),
	}
}

// EditSessionResponse is a session view plus its ID.
type EditSessionResponse struct {
	SessionID string `json:"sessionId"`
	editor.View
}

// UpdateTextRequest is the body of PATCH /edit/{sid}. Omitted fields keep
// their current value.
type UpdateTextRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// SwapRequest is the body of the swap endpoints.
type SwapRequest struct {
	I *int `json:"i"`
	J *int `json:"j"`
}

// CommitResponse tells the browser where to go after a save.
type CommitResponse struct {
	Redirect string `json:"redirect"`
}

func ownerOf(r *http.Request) string {
	if id := middleware.GetUserID(r.Context()); id != "" {
		return id
	}
	return "anonymous"
}

// upstreamContext forwards the browser's cookies to the social API.
func upstreamContext(r *http.Request) context.Context {
	return apiclient.WithCookies(r.Context(), r.Cookies())
}

// writeSessionError maps editor and registry errors to the error envelope.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeCodedError(w, r, ErrCodeNotFound, "Edit session not found")
	case errors.Is(err, editor.ErrSessionClosed):
		writeCodedError(w, r, ErrCodeSessionClosed, "Edit session was closed")
	case errors.Is(err, editor.ErrCommitInProgress):
		writeCodedError(w, r, ErrCodeCommitInProgress, "A save is in progress")
	case errors.Is(err, editor.ErrTooManyFiles):
		writeCodedError(w, r, ErrCodeTooManyFiles, err.Error())
	case errors.Is(err, editor.ErrIndexOutOfRange):
		writeCodedError(w, r, ErrCodeIndexOutOfRange, err.Error())
	case errors.Is(err, editor.ErrTitleRequired):
		writeCodedError(w, r, ErrCodeValidation, "Title is required")
	default:
		slog.ErrorContext(r.Context(), "edit session operation failed", "error", err)
		writeCodedError(w, r, ErrCodeInternal, "Internal server error")
	}
}

func (h *EditHandlers) lookup(w http.ResponseWriter, r *http.Request) (string, *editor.Session, bool) {
	sid := r.PathValue("sid")
	s, err := h.sessions.Get(sid, ownerOf(r))
	if err != nil {
		writeSessionError(w, r, err)
		return "", nil, false
	}
	return sid, s, true
}

func (h *EditHandlers) writeView(w http.ResponseWriter, r *http.Request, status int, sid string, s *editor.Session) {
	writeJSON(w, r.Context(), status, EditSessionResponse{SessionID: sid, View: s.View()})
}

// Open handles POST /posts/{postId}/edit.
func (h *EditHandlers) Open(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("postId")
	if id, err := strconv.ParseInt(postID, 10, 64); err != nil || id <= 0 {
		writeCodedError(w, r, ErrCodeValidation, "postId must be a positive integer")
		return
	}

	ctx, endSpan := tracing.StartEditSpan(upstreamContext(r), "", tracing.EditOperationOpen)
	post, err := h.posts.GetPost(ctx, postID)
	endSpan(err)
	if err != nil {
		switch {
		case errors.Is(err, apiclient.ErrNotFound):
			writeCodedError(w, r, ErrCodeNotFound, "Post not found")
		case errors.Is(err, apiclient.ErrForbidden):
			writeCodedError(w, r, ErrCodeForbidden, "You may not edit this post")
		default:
			slog.ErrorContext(r.Context(), "failed to load post", "post_id", postID, "error", err)
			writeCodedError(w, r, ErrCodeUpstreamError, "Failed to load post")
		}
		return
	}

	s := editor.NewSession(postID, editor.Draft{
		Title:     post.Title,
		Content:   post.Content,
		ImageRefs: post.ImageURLs,
	}, h.previews, h.maxFiles)
	sid := h.sessions.Add(ownerOf(r), s)
	tracing.SetAttributes(ctx, attribute.String("edit.session_id", sid))

	slog.InfoContext(r.Context(), "edit session opened",
		"session_id", sid,
		"post_id", postID,
		"originals", len(post.ImageURLs))
	h.writeView(w, r, http.StatusCreated, sid, s)
}

// Get handles GET /edit/{sid}.
func (h *EditHandlers) Get(w http.ResponseWriter, r *http.Request) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeView(w, r, http.StatusOK, sid, s)
}

// UpdateText handles PATCH /edit/{sid}.
func (h *EditHandlers) UpdateText(w http.ResponseWriter, r *http.Request) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req UpdateTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	if err := s.UpdateText(req.Title, req.Content); err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, sid, s)
}

// AttachFiles handles POST /edit/{sid}/files with multipart field "files".
// Every file is validated before any is added, so a bad file adds none.
func (h *EditHandlers) AttachFiles(w http.ResponseWriter, r *http.Request) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	limit := h.constraints.MaxSizeBytes + multipartOverhead
	if h.maxFiles > 0 {
		limit = int64(h.maxFiles)*h.constraints.MaxSizeBytes + multipartOverhead
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeCodedError(w, r, ErrCodeFileTooLarge, "Request exceeds the upload size limit")
			return
		}
		writeCodedError(w, r, ErrCodeBadRequest, "Expected a multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeCodedError(w, r, ErrCodeValidation, "No files attached")
		return
	}

	ctx, endSpan := tracing.StartEditSpan(r.Context(), sid, tracing.EditOperationAttach)
	files, err := h.readFiles(headers)
	if err == nil {
		err = s.AddFiles(files...)
	}
	tracing.SetAttributes(ctx, attribute.Int("edit.files", len(headers)))
	endSpan(err)

	if err != nil {
		var fileErr *attachError
		if errors.As(err, &fileErr) {
			writeAttachError(w, r, fileErr)
			return
		}
		writeSessionError(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, sid, s)
}

// attachError ties a validation failure to the offending file.
type attachError struct {
	filename string
	err      error
}

func (e *attachError) Error() string {
	return fmt.Sprintf("%s: %v", e.filename, e.err)
}

func (e *attachError) Unwrap() error {
	return e.err
}

func writeAttachError(w http.ResponseWriter, r *http.Request, err *attachError) {
	switch {
	case errors.Is(err, validate.ErrFileTooLarge):
		writeCodedError(w, r, ErrCodeFileTooLarge, err.Error())
	case errors.Is(err, validate.ErrInvalidMIMEType), errors.Is(err, validate.ErrTypeMismatch):
		writeCodedError(w, r, ErrCodeUnsupportedType, err.Error())
	default:
		writeCodedError(w, r, ErrCodeValidation, err.Error())
	}
}

func (h *EditHandlers) readFiles(headers []*multipart.FileHeader) ([]*editor.PendingFile, error) {
	files := make([]*editor.PendingFile, 0, len(headers))
	for _, fh := range headers {
		if err := validate.FileSize(fh.Size, h.constraints); err != nil {
			return nil, &attachError{filename: fh.Filename, err: err}
		}
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		contentType, err := validate.File(fh.Header.Get("Content-Type"), data, h.constraints)
		if err != nil {
			return nil, &attachError{filename: fh.Filename, err: err}
		}
		files = append(files, editor.NewPendingFile(fh.Filename, contentType, data))
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// RemoveOriginal handles DELETE /edit/{sid}/originals/{index}.
func (h *EditHandlers) RemoveOriginal(w http.ResponseWriter, r *http.Request) {
	h.removeAt(w, r, (*editor.Session).RemoveOriginal)
}

// RemoveFile handles DELETE /edit/{sid}/files/{index}.
func (h *EditHandlers) RemoveFile(w http.ResponseWriter, r *http.Request) {
	h.removeAt(w, r, (*editor.Session).RemoveFile)
}

func (h *EditHandlers) removeAt(w http.ResponseWriter, r *http.Request, remove func(*editor.Session, int) error) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeCodedError(w, r, ErrCodeValidation, "index must be an integer")
		return
	}
	if err := remove(s, i); err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, sid, s)
}

// SwapOriginals handles POST /edit/{sid}/originals/swap.
func (h *EditHandlers) SwapOriginals(w http.ResponseWriter, r *http.Request) {
	h.swap(w, r, (*editor.Session).SwapOriginal)
}

// SwapFiles handles POST /edit/{sid}/files/swap.
func (h *EditHandlers) SwapFiles(w http.ResponseWriter, r *http.Request) {
	h.swap(w, r, (*editor.Session).SwapFile)
}

func (h *EditHandlers) swap(w http.ResponseWriter, r *http.Request, swap func(*editor.Session, int, int) error) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.I == nil || req.J == nil {
		writeCodedError(w, r, ErrCodeValidation, "Both i and j are required")
		return
	}
	if err := swap(s, *req.I, *req.J); err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, sid, s)
}

// Commit handles POST /edit/{sid}/commit. On success the session is torn
// down and the browser is sent to the post. A failed upload or update keeps
// the session editable.
func (h *EditHandlers) Commit(w http.ResponseWriter, r *http.Request) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	pending := len(s.View().Files)
	ctx, endSpan := tracing.StartEditSpan(upstreamContext(r), sid, tracing.EditOperationCommit)
	tracing.SetAttributes(ctx, attribute.Int("edit.pending_files", pending))
	err := s.Save(ctx, h.uploader, h.posts)
	endSpan(err)

	if err != nil {
		switch {
		case errors.Is(err, editor.ErrTitleRequired),
			errors.Is(err, editor.ErrSessionClosed),
			errors.Is(err, editor.ErrCommitInProgress):
			writeSessionError(w, r, err)
		default:
			slog.ErrorContext(r.Context(), "commit failed",
				"session_id", sid,
				"post_id", s.PostID(),
				"pending_files", pending,
				"error", err)
			writeCodedError(w, r, ErrCodeCommitFailed, "Failed to save post")
		}
		return
	}

	_ = h.sessions.Remove(sid, ownerOf(r))
	slog.InfoContext(r.Context(), "post saved",
		"session_id", sid,
		"post_id", s.PostID(),
		"uploaded", pending)
	writeJSON(w, r.Context(), http.StatusOK, CommitResponse{Redirect: "/posts/" + s.PostID()})
}

// Cancel handles DELETE /edit/{sid}.
func (h *EditHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if err := h.sessions.Remove(sid, ownerOf(r)); err != nil {
		writeSessionError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "edit session cancelled", "session_id", sid)
	w.WriteHeader(http.StatusNoContent)
}

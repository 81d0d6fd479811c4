package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/gramfront/internal/preview"
)

// PreviewSource looks up the bytes behind a live preview locator.
type PreviewSource interface {
	Get(id string) (preview.Preview, bool)
}

// PreviewHandlers serves thumbnails of files not yet uploaded.
type PreviewHandlers struct {
	previews PreviewSource
}

// NewPreviewHandlers creates preview handlers.
func NewPreviewHandlers(previews PreviewSource) *PreviewHandlers {
	return &PreviewHandlers{previews: previews}
}

// Get handles GET /previews/{id}. Released locators are 404.
func (h *PreviewHandlers) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.previews.Get(r.PathValue("id"))
	if !ok {
		writeCodedError(w, r, ErrCodeNotFound, "Preview not found")
		return
	}

	w.Header().Set("Content-Type", p.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
	w.Header().Set("Cache-Control", "private, no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(p.Data); err != nil {
		slog.DebugContext(r.Context(), "preview write aborted", "error", err)
	}
}

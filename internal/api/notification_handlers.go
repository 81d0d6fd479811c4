package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/gramfront/internal/middleware"
	"github.com/onnwee/gramfront/internal/notify"
)

// NotificationService tracks the unread flag of each viewer.
type NotificationService interface {
	Unread(ctx context.Context, viewer string) (bool, error)
	MarkRead(ctx context.Context, viewer string) error
	Watch(viewer string) (stop func())
	Broadcaster() *notify.Broadcaster
}

// NotificationHandlers serves the unread badge and its live updates.
type NotificationHandlers struct {
	service  NotificationService
	upgrader websocket.Upgrader
}

// NewNotificationHandlers creates notification handlers. Browser websockets
// are accepted from allowedOrigins, or from the serving host when the list
// is empty.
func NewNotificationHandlers(service NotificationService, allowedOrigins []string) *NotificationHandlers {
	return &NotificationHandlers{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(allowed) > 0 {
			return allowed[origin]
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// UnreadResponse reports the unread flag.
type UnreadResponse struct {
	Unread bool `json:"unread"`
}

// Enter handles GET /notifications. Opening the notifications view clears
// the unread flag.
func (h *NotificationHandlers) Enter(w http.ResponseWriter, r *http.Request) {
	h.MarkRead(w, r)
}

// Unread handles GET /notifications/unread.
func (h *NotificationHandlers) Unread(w http.ResponseWriter, r *http.Request) {
	unread, err := h.service.Unread(r.Context(), ownerOf(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to read unread flag", "error", err)
		writeCodedError(w, r, ErrCodeInternal, "Failed to load notifications")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, UnreadResponse{Unread: unread})
}

// MarkRead handles POST /notifications/read.
func (h *NotificationHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkRead(r.Context(), ownerOf(r)); err != nil {
		slog.ErrorContext(r.Context(), "failed to clear unread flag", "error", err)
		writeCodedError(w, r, ErrCodeInternal, "Failed to update notifications")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, UnreadResponse{Unread: false})
}

// Subscribe handles GET /notifications/ws. The current flag is sent on
// connect and every change after that. While at least one page is open the
// viewer's upstream notification stream is followed.
func (h *NotificationHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := ownerOf(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}
	// Server read and write timeouts must not close a long-lived socket.
	_ = conn.NetConn().SetDeadline(time.Time{})

	broadcaster := h.service.Broadcaster()
	broadcaster.Subscribe(viewer, conn)
	stop := h.service.Watch(viewer)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to notifications",
		"viewer", viewer,
		"request_id", requestID)

	defer func() {
		stop()
		broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"viewer", viewer,
			"request_id", requestID)
	}()

	unread, err := h.service.Unread(ctx, viewer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read unread flag", "error", err)
	} else if err := broadcaster.Send(viewer, conn, notify.NewUnreadEvent(unread)); err != nil {
		slog.WarnContext(ctx, "failed to send initial unread state", "error", err)
		return
	}

	// Clients never send; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"viewer", viewer)
			}
			return
		}
	}
}

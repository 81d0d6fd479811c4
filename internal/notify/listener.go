package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Message is a notification pushed by the social API's websocket.
type Message struct {
	Type           string         `json:"type"`
	ReceiverID     int64          `json:"receiverId"`
	SenderID       int64          `json:"senderId"`
	SenderNickname string         `json:"senderNickname"`
	Data           map[string]any `json:"data"`
	CreatedAt      string         `json:"createdAt"`
}

// Reconnect backoff bounds for the upstream connection.
const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Listener holds one upstream notification connection for a user and
// reconnects until its context ends.
type Listener struct {
	wsURL     string
	userID    string
	dialer    *websocket.Dialer
	onMessage func(Message)
	sleep     func(ctx context.Context, d time.Duration) bool
}

// NewListener creates a listener for userID against wsURL. onMessage is
// called from the listener goroutine for every decoded message.
func NewListener(wsURL, userID string, onMessage func(Message)) *Listener {
	return &Listener{
		wsURL:     wsURL,
		userID:    userID,
		dialer:    websocket.DefaultDialer,
		onMessage: onMessage,
		sleep:     sleepContext,
	}
}

// Run connects and reads until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}
		slog.WarnContext(ctx, "notification websocket disconnected, reconnecting",
			"user_id", l.userID,
			"retry_in", backoff.String(),
			"error", err)
		if !l.sleep(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (l *Listener) session(ctx context.Context) (bool, error) {
	target, err := l.endpoint()
	if err != nil {
		return false, err
	}

	conn, _, err := l.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial notification websocket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	slog.InfoContext(ctx, "notification websocket connected", "user_id", l.userID)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.WarnContext(ctx, "ignoring malformed notification message",
				"user_id", l.userID,
				"error", err)
			continue
		}
		l.onMessage(msg)
	}
}

func (l *Listener) endpoint() (string, error) {
	u, err := url.Parse(l.wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid notification websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("userId", l.userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

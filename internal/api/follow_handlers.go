package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/onnwee/gramfront/internal/apiclient"
	"github.com/onnwee/gramfront/internal/follow"
	"github.com/onnwee/gramfront/internal/middleware"
)

// FollowingsFetcher loads a user's followings list from the social API.
type FollowingsFetcher interface {
	GetFollowings(ctx context.Context, userID string) (follow.ListResponse, error)
}

// FollowHandlers serves the followings page.
type FollowHandlers struct {
	api   FollowingsFetcher
	cache *follow.ListCache
}

// NewFollowHandlers creates followings handlers. A nil cache refetches on
// every request.
func NewFollowHandlers(api FollowingsFetcher, cache *follow.ListCache) *FollowHandlers {
	if cache == nil {
		cache = follow.NewListCache(0, nil)
	}
	return &FollowHandlers{api: api, cache: cache}
}

// FollowingsResponse is the followings page model.
// Users and TotalCount are left out when the list is forbidden.
type FollowingsResponse struct {
	State      follow.ListState    `json:"state"`
	TotalCount *int                `json:"totalCount,omitempty"`
	Query      string              `json:"query"`
	Users      []follow.UserRecord `json:"users,omitzero"`
	Message    string              `json:"message,omitempty"`
}

func stateMessage(state follow.ListState, query string) string {
	switch state {
	case follow.StateEmpty:
		return "Not following anyone yet"
	case follow.StateNoResults:
		return fmt.Sprintf("No results for %q", query)
	case follow.StateForbidden:
		return "You do not have permission to view this account's followings"
	default:
		return ""
	}
}

// cacheIdentity names whose view of a list is cached. The upstream decides
// access from the forwarded cookies, so without an authenticated viewer the
// cookies themselves are the identity.
func cacheIdentity(r *http.Request) string {
	if viewer := middleware.GetUserID(r.Context()); viewer != "" {
		return "user:" + viewer
	}
	cookies := r.Cookies()
	if len(cookies) == 0 {
		return "anonymous"
	}
	pairs := make([]string, len(cookies))
	for i, c := range cookies {
		pairs[i] = c.Name + "=" + c.Value
	}
	slices.Sort(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "; ")))
	return "cookie:" + hex.EncodeToString(sum[:16])
}

// GetFollowings handles GET /followings/{userId}?q=.
// The list is fetched once per viewer and cached; typing a query filters the
// cached list. Pass refresh=1 to force a refetch.
func (h *FollowHandlers) GetFollowings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if id, err := strconv.ParseInt(userID, 10, 64); err != nil || id <= 0 {
		writeCodedError(w, r, ErrCodeValidation, "userId must be a positive integer")
		return
	}
	query := r.URL.Query().Get("q")

	key := cacheIdentity(r) + ":" + userID

	entry, ok := h.cache.Get(key)
	if !ok || r.URL.Query().Get("refresh") == "1" {
		ctx := apiclient.WithCookies(r.Context(), r.Cookies())
		resp, err := h.api.GetFollowings(ctx, userID)
		if errors.Is(err, apiclient.ErrForbidden) {
			h.cache.Invalidate(key)
			writeJSON(w, r.Context(), http.StatusOK, FollowingsResponse{
				State:   follow.StateForbidden,
				Query:   query,
				Message: stateMessage(follow.StateForbidden, query),
			})
			return
		}
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to load followings", "user_id", userID, "error", err)
			writeCodedError(w, r, ErrCodeUpstreamError, "failed to load followings")
			return
		}
		entry = h.cache.Put(key, resp)
	}

	users := entry.Memo.Search(query)
	state := follow.StateFor(entry.Memo.Users(), users)
	total := entry.TotalCount
	if users == nil {
		users = []follow.UserRecord{}
	}

	writeJSON(w, r.Context(), http.StatusOK, FollowingsResponse{
		State:      state,
		TotalCount: &total,
		Query:      query,
		Users:      users,
		Message:    stateMessage(state, query),
	})
}

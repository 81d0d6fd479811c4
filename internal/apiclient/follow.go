package apiclient

import (
	"context"
	"net/http"

	"github.com/onnwee/gramfront/internal/follow"
)

// GetFollowings returns the users userID follows. A viewer not allowed to
// see the list gets ErrForbidden.
func (c *Client) GetFollowings(ctx context.Context, userID string) (follow.ListResponse, error) {
	var resp follow.ListResponse
	header := http.Header{}
	header.Set("showUserId", userID)

	if err := c.doJSON(ctx, http.MethodGet, "/follow/followings", nil, header, &resp); err != nil {
		return follow.ListResponse{}, err
	}
	if resp.Users == nil {
		resp.Users = []follow.UserRecord{}
	}
	return resp, nil
}

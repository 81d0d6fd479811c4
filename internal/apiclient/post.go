package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/onnwee/gramfront/internal/upload"
)

// Post is the editable part of a post.
type Post struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"imageUrls"`
}

// GetPost fetches the current title, content and images of a post.
func (c *Client) GetPost(ctx context.Context, postID string) (Post, error) {
	var post Post
	if err := c.doJSON(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID), nil, nil, &post); err != nil {
		return Post{}, err
	}
	if post.ImageURLs == nil {
		post.ImageURLs = []string{}
	}
	return post, nil
}

// UpdatePost submits the edited post.
func (c *Client) UpdatePost(ctx context.Context, postID, title, content string, imageRefs []string) error {
	if imageRefs == nil {
		imageRefs = []string{}
	}
	body := Post{Title: title, Content: content, ImageURLs: imageRefs}
	return c.doJSON(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID), body, nil, nil)
}

// Authorize asks the API for one presigned upload target per file.
func (c *Client) Authorize(ctx context.Context, specs []upload.FileSpec) ([]upload.Grant, error) {
	var grants []upload.Grant
	if err := c.doJSON(ctx, http.MethodPost, "/api/s3/presigned-urls", specs, nil, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

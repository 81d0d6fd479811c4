package upload

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"
)

func r2Config() S3Config {
	return S3Config{
		BucketName:      "media",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "https://r2.example.com",
	}
}

func newTestAuthorizer(t *testing.T, modify func(*S3Config)) *S3Authorizer {
	t.Helper()
	cfg := r2Config()
	if modify != nil {
		modify(&cfg)
	}
	a, err := NewS3Authorizer(cfg)
	if err != nil {
		t.Fatalf("NewS3Authorizer failed: %v", err)
	}
	return a
}

var objectKeyPattern = regexp.MustCompile(`^posts/([A-Za-z0-9_-]+)/[0-9a-f-]{36}(\.[a-z]+)$`)

func TestValidateContentType(t *testing.T) {
	for contentType := range AllowedMIMETypes {
		if err := ValidateContentType(contentType); err != nil {
			t.Errorf("%s: expected accepted, got %v", contentType, err)
		}
	}
	for _, contentType := range []string{"", "video/mp4", "image/svg+xml", "image/heic", "IMAGE/JPEG", "image/jpeg; charset=binary"} {
		if err := ValidateContentType(contentType); !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("%q: expected ErrUnsupportedType, got %v", contentType, err)
		}
	}
}

func TestS3Authorizer_ValidateFileSize(t *testing.T) {
	a := newTestAuthorizer(t, func(c *S3Config) { c.MaxSizeMB = 2 })

	tests := []struct {
		size int64
		want error
	}{
		{1, nil},
		{2 << 20, nil},
		{2<<20 + 1, ErrFileTooLarge},
		{0, ErrEmptyFile},
		{-5, ErrEmptyFile},
	}
	for _, tt := range tests {
		if err := a.ValidateFileSize(tt.size); !errors.Is(err, tt.want) {
			t.Errorf("size %d: expected %v, got %v", tt.size, tt.want, err)
		}
	}
}

func TestGenerateObjectKey(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		prefix      string
		wantScope   string
		wantExt     string
		wantErr     error
	}{
		{"post scope", MIMEImageJPEG, "1337", "1337", ".jpg", nil},
		{"no post yet", MIMEImageGIF, "", "temp", ".gif", nil},
		{"traversal stripped", MIMEImagePNG, "../1337/", "1337", ".png", nil},
		{"nothing left after stripping", MIMEImageWebP, "/../", "", "", ErrInvalidPostID},
		{"not an image", "text/html", "1337", "", "", ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := GenerateObjectKey(tt.contentType, tt.prefix)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v (key %q)", tt.wantErr, err, key)
			}
			if tt.wantErr != nil {
				return
			}
			m := objectKeyPattern.FindStringSubmatch(key)
			if m == nil {
				t.Fatalf("unexpected key shape %q", key)
			}
			if m[1] != tt.wantScope || m[2] != tt.wantExt {
				t.Errorf("expected scope %s and ext %s, got %q", tt.wantScope, tt.wantExt, key)
			}
		})
	}
}

func TestGenerateObjectKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		key, err := GenerateObjectKey(MIMEImageJPEG, "7")
		if err != nil {
			t.Fatal(err)
		}
		if seen[key] {
			t.Fatalf("duplicate key %s", key)
		}
		seen[key] = true
	}
}

func TestSanitizePathComponent(t *testing.T) {
	tests := map[string]string{
		"1337":          "1337",
		"draft_2-b":     "draft_2-b",
		"../../../root": "root",
		"42?x=1&y=2":    "42x1y2",
		"фото":          "",
		"":              "",
	}
	for in, want := range tests {
		if got := sanitizePathComponent(in); got != want {
			t.Errorf("sanitizePathComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewS3Authorizer_RequiredFields(t *testing.T) {
	tests := []struct {
		clear func(*S3Config)
		want  string
	}{
		{func(c *S3Config) { c.BucketName = "" }, "bucket name is required"},
		{func(c *S3Config) { c.AccessKeyID = "" }, "access key ID is required"},
		{func(c *S3Config) { c.SecretAccessKey = "" }, "secret access key is required"},
		{func(c *S3Config) { c.Endpoint = "" }, "endpoint is required"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cfg := r2Config()
			tt.clear(&cfg)
			if _, err := NewS3Authorizer(cfg); err == nil || err.Error() != tt.want {
				t.Errorf("expected %q, got %v", tt.want, err)
			}
		})
	}
}

func TestNewS3Authorizer_Defaults(t *testing.T) {
	a := newTestAuthorizer(t, func(c *S3Config) { c.Endpoint = "https://r2.example.com/" })
	if a.maxSizeBytes != 15<<20 {
		t.Errorf("expected 15MB default limit, got %d", a.maxSizeBytes)
	}
	if a.urlExpiry != 5*time.Minute {
		t.Errorf("expected 5m default expiry, got %s", a.urlExpiry)
	}
	if a.publicBaseURL != "https://r2.example.com/media" {
		t.Errorf("expected public base derived from endpoint, got %q", a.publicBaseURL)
	}

	custom := newTestAuthorizer(t, func(c *S3Config) {
		c.MaxSizeMB = 4
		c.URLExpiryMinutes = 1
		c.PublicBaseURL = "https://cdn.example.com/"
	})
	if custom.maxSizeBytes != 4<<20 || custom.urlExpiry != time.Minute || custom.publicBaseURL != "https://cdn.example.com" {
		t.Errorf("expected overrides to apply, got %d %s %q", custom.maxSizeBytes, custom.urlExpiry, custom.publicBaseURL)
	}
}

// Presigning is local; no request reaches the endpoint.
func TestS3Authorizer_Authorize(t *testing.T) {
	a := newTestAuthorizer(t, func(c *S3Config) {
		c.PublicBaseURL = "https://cdn.example.com"
		c.KeyPrefix = "1337"
		c.URLExpiryMinutes = 2
	})

	specs := []FileSpec{
		{Filename: "cat.jpg", ContentType: MIMEImageJPEG, SizeBytes: 1024},
		{Filename: "dog.webp", ContentType: MIMEImageWebP, SizeBytes: 4096},
	}
	grants, err := a.Authorize(context.Background(), specs)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if len(grants) != len(specs) {
		t.Fatalf("expected %d grants, got %d", len(specs), len(grants))
	}

	for i, g := range grants {
		u, err := url.Parse(g.UploadURL)
		if err != nil {
			t.Fatalf("grant %d: bad upload URL: %v", i, err)
		}
		key := strings.TrimPrefix(g.PublicRef, "https://cdn.example.com/")
		if !objectKeyPattern.MatchString(key) || !strings.HasSuffix(key, AllowedMIMETypes[specs[i].ContentType]) {
			t.Errorf("grant %d: unexpected public ref %s", i, g.PublicRef)
		}
		if u.Host != "r2.example.com" || u.Path != "/media/"+key {
			t.Errorf("grant %d: expected path-style PUT to /media/%s, got %s", i, key, g.UploadURL)
		}
		q := u.Query()
		if q.Get("X-Amz-Signature") == "" {
			t.Errorf("grant %d: expected a signature in %s", i, g.UploadURL)
		}
		if q.Get("X-Amz-Expires") != "120" {
			t.Errorf("grant %d: expected 120s expiry, got %q", i, q.Get("X-Amz-Expires"))
		}
	}
}

func TestS3Authorizer_AuthorizeFailsWholeBatch(t *testing.T) {
	a := newTestAuthorizer(t, func(c *S3Config) { c.MaxSizeMB = 1 })

	tests := []struct {
		name  string
		specs []FileSpec
		index int
		want  error
	}{
		{
			name: "oversized second file",
			specs: []FileSpec{
				{Filename: "ok.jpg", ContentType: MIMEImageJPEG, SizeBytes: 10},
				{Filename: "huge.jpg", ContentType: MIMEImageJPEG, SizeBytes: 2 << 20},
			},
			index: 1,
			want:  ErrFileTooLarge,
		},
		{
			name: "unsupported first file",
			specs: []FileSpec{
				{Filename: "clip.mp4", ContentType: "video/mp4", SizeBytes: 10},
				{Filename: "ok.png", ContentType: MIMEImagePNG, SizeBytes: 10},
			},
			index: 0,
			want:  ErrUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grants, err := a.Authorize(context.Background(), tt.specs)
			if grants != nil {
				t.Errorf("expected no grants, got %v", grants)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var fe *FileError
			if !errors.As(err, &fe) || fe.Index != tt.index || fe.Filename != tt.specs[tt.index].Filename {
				t.Errorf("expected FileError for %s, got %#v", tt.specs[tt.index].Filename, err)
			}
		})
	}
}

func TestS3Authorizer_EmptyBatch(t *testing.T) {
	grants, err := newTestAuthorizer(t, nil).Authorize(context.Background(), nil)
	if err != nil || len(grants) != 0 {
		t.Errorf("expected no grants and no error, got %v %v", grants, err)
	}
}

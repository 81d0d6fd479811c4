// Package upload authorizes and performs direct-to-storage uploads of post images.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const (
	MIMEImageJPEG = "image/jpeg"
	MIMEImagePNG  = "image/png"
	MIMEImageGIF  = "image/gif"
	MIMEImageWebP = "image/webp"
)

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrFileTooLarge    = errors.New("file size exceeds maximum allowed")
	ErrEmptyFile       = errors.New("file size must be positive")
	ErrInvalidPostID   = errors.New("invalid post ID")
)

// AllowedMIMETypes maps each accepted image type to the extension its object
// key gets.
var AllowedMIMETypes = map[string]string{
	MIMEImageJPEG: ".jpg",
	MIMEImagePNG:  ".png",
	MIMEImageGIF:  ".gif",
	MIMEImageWebP: ".webp",
}

const (
	defaultMaxSizeMB  = 15
	defaultURLExpiry  = 5 * time.Minute
	defaultKeyScope   = "temp"
	objectKeyTemplate = "posts/%s/%s%s"
)

// FileSpec describes one file that needs an upload target.
type FileSpec struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"-"`
}

// Grant is a one-time upload authorization: PUT the bytes to UploadURL,
// then reference the stored object by PublicRef.
type Grant struct {
	UploadURL string `json:"url"`
	PublicRef string `json:"s3Url"`
}

// Authorizer hands out one grant per file spec, in the same order.
type Authorizer interface {
	Authorize(ctx context.Context, specs []FileSpec) ([]Grant, error)
}

// S3Config configures an S3Authorizer. Zero values of the optional fields
// pick the defaults noted beside them.
type S3Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string

	PublicBaseURL    string // Endpoint/BucketName
	KeyPrefix        string // "temp"; usually the post id
	MaxSizeMB        int    // 15
	URLExpiryMinutes int    // 5
}

func (c S3Config) validate() error {
	required := []struct{ value, name string }{
		{c.BucketName, "bucket name"},
		{c.AccessKeyID, "access key ID"},
		{c.SecretAccessKey, "secret access key"},
		{c.Endpoint, "endpoint"},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.New(r.name + " is required")
		}
	}
	return nil
}

// S3Authorizer presigns PUT URLs against an S3-compatible bucket such as R2.
// It replaces the social API's presign endpoint when storage credentials are
// configured locally.
type S3Authorizer struct {
	presigner     *s3.PresignClient
	bucketName    string
	publicBaseURL string
	keyPrefix     string
	maxSizeBytes  int64
	urlExpiry     time.Duration
}

func NewS3Authorizer(cfg S3Config) (*S3Authorizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a := &S3Authorizer{
		bucketName:    cfg.BucketName,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		keyPrefix:     cfg.KeyPrefix,
		maxSizeBytes:  defaultMaxSizeMB << 20,
		urlExpiry:     defaultURLExpiry,
	}
	if cfg.MaxSizeMB > 0 {
		a.maxSizeBytes = int64(cfg.MaxSizeMB) << 20
	}
	if cfg.URLExpiryMinutes > 0 {
		a.urlExpiry = time.Duration(cfg.URLExpiryMinutes) * time.Minute
	}
	if a.publicBaseURL == "" {
		a.publicBaseURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.BucketName
	}

	// R2 wants region "auto" and path-style addressing.
	client := s3.New(s3.Options{
		Region:       "auto",
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	})
	a.presigner = s3.NewPresignClient(client)
	return a, nil
}

// ValidateContentType accepts only the image types in AllowedMIMETypes.
func ValidateContentType(contentType string) error {
	if _, ok := AllowedMIMETypes[contentType]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// ValidateFileSize accepts sizes in (0, max].
func (s *S3Authorizer) ValidateFileSize(sizeBytes int64) error {
	switch {
	case sizeBytes <= 0:
		return ErrEmptyFile
	case sizeBytes > s.maxSizeBytes:
		return ErrFileTooLarge
	}
	return nil
}

// GenerateObjectKey returns posts/<prefix>/<uuid><ext>, with "temp" standing in
// for an empty prefix. Characters outside [A-Za-z0-9_-] are dropped from prefix.
func GenerateObjectKey(contentType string, prefix string) (string, error) {
	ext, ok := AllowedMIMETypes[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}
	scope := defaultKeyScope
	if prefix != "" {
		if scope = sanitizePathComponent(prefix); scope == "" {
			return "", ErrInvalidPostID
		}
	}
	return fmt.Sprintf(objectKeyTemplate, scope, uuid.NewString(), ext), nil
}

func sanitizePathComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
}

// Authorize presigns one PUT URL per spec. A single bad spec fails the whole
// batch with a FileError naming it.
func (s *S3Authorizer) Authorize(ctx context.Context, specs []FileSpec) ([]Grant, error) {
	grants := make([]Grant, len(specs))
	for i, spec := range specs {
		g, err := s.presign(ctx, spec)
		if err != nil {
			return nil, &FileError{Index: i, Filename: spec.Filename, Err: err}
		}
		grants[i] = g
	}
	return grants, nil
}

func (s *S3Authorizer) presign(ctx context.Context, spec FileSpec) (Grant, error) {
	if err := ValidateContentType(spec.ContentType); err != nil {
		return Grant{}, err
	}
	if err := s.ValidateFileSize(spec.SizeBytes); err != nil {
		return Grant{}, err
	}
	key, err := GenerateObjectKey(spec.ContentType, s.keyPrefix)
	if err != nil {
		return Grant{}, err
	}

	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		ContentType:   aws.String(spec.ContentType),
		ContentLength: aws.Int64(spec.SizeBytes),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return Grant{}, fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return Grant{UploadURL: req.URL, PublicRef: s.publicBaseURL + "/" + key}, nil
}

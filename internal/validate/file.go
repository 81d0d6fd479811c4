// Package validate checks files attached to a post before they are held in
// an edit session.
package validate

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// File validation errors
var (
	ErrEmpty           = errors.New("file is empty")
	ErrInvalidMIMEType = errors.New("invalid MIME type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrTypeMismatch    = errors.New("content does not match declared type")
)

// Image MIME types accepted for post images.
const (
	MIMEImageJPEG = "image/jpeg"
	MIMEImagePNG  = "image/png"
	MIMEImageGIF  = "image/gif"
	MIMEImageWebP = "image/webp"
)

// AllowedImageTypes defines allowed image MIME types.
var AllowedImageTypes = []string{
	MIMEImageJPEG,
	MIMEImagePNG,
	MIMEImageGIF,
	MIMEImageWebP,
}

// DefaultMaxImageBytes is used when no limit is configured.
const DefaultMaxImageBytes = 15 * 1024 * 1024

// FileConstraints defines validation constraints for attached files.
type FileConstraints struct {
	AllowedTypes []string // Allowed MIME types
	MaxSizeBytes int64    // Maximum file size in bytes (0 = no maximum)
}

// ImageConstraints returns the constraints for post images with the given
// size limit. maxBytes <= 0 uses DefaultMaxImageBytes.
func ImageConstraints(maxBytes int64) FileConstraints {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return FileConstraints{AllowedTypes: AllowedImageTypes, MaxSizeBytes: maxBytes}
}

// MIMEType validates a MIME type against allowed types.
// Parameters such as charset are dropped. Returns the normalized type.
func MIMEType(mimeType string, allowedTypes []string) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mediaType
	}

	if mimeType == "" {
		return "", fmt.Errorf("%w: missing content type", ErrInvalidMIMEType)
	}

	for _, allowed := range allowedTypes {
		if mimeType == strings.ToLower(allowed) {
			return mimeType, nil
		}
	}

	return "", fmt.Errorf("%w: %q not in allowed types", ErrInvalidMIMEType, mimeType)
}

// FileSize validates a file size against constraints.
func FileSize(sizeBytes int64, constraints FileConstraints) error {
	if sizeBytes <= 0 {
		return ErrEmpty
	}
	if constraints.MaxSizeBytes > 0 && sizeBytes > constraints.MaxSizeBytes {
		return fmt.Errorf("%w: got %d bytes, maximum is %d", ErrFileTooLarge, sizeBytes, constraints.MaxSizeBytes)
	}
	return nil
}

// File validates an attached file and returns its MIME type.
//
// Browsers sometimes send application/octet-stream or nothing at all for
// images, so a generic declared type falls back to sniffing the content.
// A specific declared type must agree with the sniffed one.
func File(declaredType string, data []byte, constraints FileConstraints) (string, error) {
	if err := FileSize(int64(len(data)), constraints); err != nil {
		return "", err
	}

	sniffed := strings.ToLower(http.DetectContentType(data))
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}

	declared := strings.ToLower(strings.TrimSpace(declaredType))
	if declared == "" || strings.HasPrefix(declared, "application/octet-stream") {
		return MIMEType(sniffed, constraints.AllowedTypes)
	}

	validated, err := MIMEType(declared, constraints.AllowedTypes)
	if err != nil {
		return "", err
	}
	if sniffed != validated {
		return "", fmt.Errorf("%w: declared %s, detected %s", ErrTypeMismatch, validated, sniffed)
	}
	return validated, nil
}

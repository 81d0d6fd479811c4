// Package image renders preview thumbnails and strips metadata from
// user-attached images before upload.
package image

import (
	"errors"
	"fmt"

	"github.com/h2non/bimg"
)

// ErrUnsupportedFormat is returned for bytes bimg cannot identify as an image.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ProcessorConfig holds configuration for image processing.
type ProcessorConfig struct {
	// Quality for JPEG/WebP encoding (1-100, default: 85)
	Quality int
	// ThumbnailMaxDimension bounds the longest edge of a preview (default: 320)
	ThumbnailMaxDimension int
}

// DefaultConfig returns sensible defaults for image processing.
func DefaultConfig() ProcessorConfig {
	return ProcessorConfig{
		Quality:               85,
		ThumbnailMaxDimension: 320,
	}
}

// Processor wraps libvips (through bimg) for the two operations the editor
// needs. It is safe for concurrent use.
type Processor struct {
	config ProcessorConfig
}

// NewProcessor creates a new image processor with the given config.
// Zero fields fall back to DefaultConfig values.
func NewProcessor(config ProcessorConfig) *Processor {
	def := DefaultConfig()
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = def.Quality
	}
	if config.ThumbnailMaxDimension <= 0 {
		config.ThumbnailMaxDimension = def.ThumbnailMaxDimension
	}
	return &Processor{config: config}
}

// Sanitize strips EXIF and other metadata (GPS, camera details, timestamps)
// and re-encodes in the source format. GIFs are returned untouched so
// animations survive.
func (p *Processor) Sanitize(contentType string, data []byte) ([]byte, error) {
	if contentType == "image/gif" {
		return data, nil
	}

	img := bimg.NewImage(data)
	metadata, err := img.Metadata()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	out, err := img.Process(bimg.Options{
		Quality:       p.config.Quality,
		StripMetadata: true,
		Type:          determineImageType(metadata.Type),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}
	return out, nil
}

// Thumbnail renders a preview whose longest edge is at most the configured
// dimension. Images already small enough are only re-encoded. It returns the
// rendered bytes and their content type.
func (p *Processor) Thumbnail(data []byte) ([]byte, string, error) {
	img := bimg.NewImage(data)
	metadata, err := img.Metadata()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	options := bimg.Options{
		Quality:       p.config.Quality,
		StripMetadata: true,
		Type:          thumbnailType(metadata.Type),
	}

	// Setting only one side keeps the aspect ratio.
	maxDim := p.config.ThumbnailMaxDimension
	width, height := metadata.Size.Width, metadata.Size.Height
	if width >= height && width > maxDim {
		options.Width = maxDim
	} else if height > width && height > maxDim {
		options.Height = maxDim
	}

	out, err := img.Process(options)
	if err != nil {
		return nil, "", fmt.Errorf("failed to render thumbnail: %w", err)
	}
	return out, contentTypeFor(options.Type), nil
}

// determineImageType maps bimg's string type to bimg.ImageType constant.
func determineImageType(typeStr string) bimg.ImageType {
	switch typeStr {
	case "jpeg":
		return bimg.JPEG
	case "png":
		return bimg.PNG
	case "webp":
		return bimg.WEBP
	case "gif":
		return bimg.GIF
	default:
		// Default to JPEG for unknown types
		return bimg.JPEG
	}
}

// thumbnailType keeps alpha-capable formats and flattens GIFs to their first
// frame as PNG.
func thumbnailType(typeStr string) bimg.ImageType {
	switch typeStr {
	case "png", "gif":
		return bimg.PNG
	case "webp":
		return bimg.WEBP
	default:
		return bimg.JPEG
	}
}

func contentTypeFor(t bimg.ImageType) string {
	switch t {
	case bimg.PNG:
		return "image/png"
	case bimg.WEBP:
		return "image/webp"
	case bimg.GIF:
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// VerifyNoEXIF checks if the image has EXIF metadata.
// Returns true if no EXIF data is present, false otherwise.
func VerifyNoEXIF(imageBytes []byte) (bool, error) {
	img := bimg.NewImage(imageBytes)
	metadata, err := img.Metadata()
	if err != nil {
		return false, fmt.Errorf("failed to read image metadata: %w", err)
	}

	// bimg metadata will not include EXIF data if it was stripped
	exif := metadata.EXIF
	hasEXIF := exif.Make != "" || exif.Model != "" ||
		exif.GPSLatitude != "" || exif.GPSLongitude != "" ||
		exif.DateTimeOriginal != "" || exif.Software != ""

	return !hasEXIF, nil
}

package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/gramfront/internal/tracing"
)

// Object is one file ready to be uploaded.
type Object struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Spec returns the authorization request for the object.
func (o Object) Spec() FileSpec {
	return FileSpec{
		Filename:    o.Filename,
		ContentType: o.ContentType,
		SizeBytes:   int64(len(o.Data)),
	}
}

// Sanitizer rewrites image bytes before they leave the process, e.g. to
// strip EXIF metadata.
type Sanitizer interface {
	Sanitize(contentType string, data []byte) ([]byte, error)
}

// Pipeline authorizes a batch of objects and uploads them concurrently.
type Pipeline struct {
	authorizer Authorizer
	putter     Putter
	sanitizer  Sanitizer
	metrics    *Metrics
	timeNow    func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSanitizer runs every object through s before authorization.
func WithSanitizer(s Sanitizer) PipelineOption {
	return func(p *Pipeline) { p.sanitizer = s }
}

// WithMetrics records batch and object outcomes on m.
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline that asks authorizer for targets and sends
// bytes with putter.
func NewPipeline(authorizer Authorizer, putter Putter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		authorizer: authorizer,
		putter:     putter,
		timeNow:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upload stores every object and returns their public references in input
// order. The first failure cancels the remaining uploads and fails the batch;
// objects already stored are left in place.
func (p *Pipeline) Upload(ctx context.Context, objects []Object) ([]string, error) {
	if len(objects) == 0 {
		return []string{}, nil
	}

	ctx, endSpan := tracing.StartEditSpan(ctx, "", tracing.EditOperationUpload)
	tracing.SetAttributes(ctx, attribute.Int("upload.objects", len(objects)))

	start := p.timeNow()
	refs, err := p.upload(ctx, objects)
	p.metrics.observeBatch(err == nil, p.timeNow().Sub(start).Seconds())
	endSpan(err)
	return refs, err
}

func (p *Pipeline) upload(ctx context.Context, objects []Object) ([]string, error) {
	prepared := make([]Object, len(objects))
	specs := make([]FileSpec, len(objects))
	for i, obj := range objects {
		prepared[i] = p.sanitize(ctx, obj)
		specs[i] = prepared[i].Spec()
	}

	grants, err := p.authorizer.Authorize(ctx, specs)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize uploads: %w", err)
	}
	if len(grants) != len(prepared) {
		return nil, fmt.Errorf("%w: requested %d, got %d", ErrGrantMismatch, len(prepared), len(grants))
	}

	refs := make([]string, len(prepared))
	g, gctx := errgroup.WithContext(ctx)
	for i := range prepared {
		obj := prepared[i]
		grant := grants[i]
		g.Go(func() error {
			err := p.putter.Put(gctx, grant.UploadURL, obj.ContentType, obj.Data)
			p.metrics.observeObject(err == nil)
			if err != nil {
				return &FileError{Index: i, Filename: obj.Filename, Err: err}
			}
			refs[i] = grant.PublicRef
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (p *Pipeline) sanitize(ctx context.Context, obj Object) Object {
	if p.sanitizer == nil {
		return obj
	}
	data, err := p.sanitizer.Sanitize(obj.ContentType, obj.Data)
	if err != nil {
		slog.WarnContext(ctx, "image sanitization failed, uploading original bytes",
			"filename", obj.Filename,
			"content_type", obj.ContentType,
			"error", err)
		return obj
	}
	obj.Data = data
	return obj
}

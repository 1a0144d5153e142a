// Package imageproc turns embedded data: URL images into hosted objects.
package imageproc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/observability"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

const (
	DefaultMaxBytes    = 1 << 20
	DefaultMaxPixels   = 40_000_000
	DefaultConcurrency = 4

	cacheControlImmutable = "public, max-age=31536000, immutable"
)

// Store is where processed images are written. gcp.Bucket satisfies it.
type Store interface {
	Upload(ctx context.Context, key string, body io.Reader, cacheControl string) error
	PublicURL(key string) string
}

type Config struct {
	MaxBytes    int
	MaxPixels   int
	Concurrency int
}

type Processor struct {
	store   Store
	log     *logger.Logger
	metrics *observability.Metrics
	cfg     Config
}

func New(store Store, log *logger.Logger, metrics *observability.Metrics, cfg Config) *Processor {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{store: store, log: log.With("service", "ImageProcessor"), metrics: metrics, cfg: cfg}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ObjectKey is projects/{project}/images/{imageId}-{sha8}.{ext}.
func ObjectKey(project, imageID string, data []byte, ext string) string {
	sum := sha256.Sum256(data)
	id := unsafeKeyChars.ReplaceAllString(imageID, "-")
	return fmt.Sprintf("projects/%s/images/%s-%s.%s", project, id, hex.EncodeToString(sum[:])[:8], ext)
}

// Process uploads every embedded image and returns the map with data: URLs
// replaced by hosted URLs. Hosted values and layouts are kept as they are.
// All uploads are joined before Process returns.
func (p *Processor) Process(ctx context.Context, project string, images map[string]sites.ImageValue) (map[string]sites.ImageValue, error) {
	out := make(map[string]sites.ImageValue, len(images))
	ids := make([]string, 0, len(images))
	for id, v := range images {
		out[id] = v
		if v.IsDataURL() {
			ids = append(ids, id)
		} else {
			p.metrics.IncImage("passthrough", 0)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}
	sort.Strings(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, id := range ids {
		id := id
		v := images[id]
		g.Go(func() error {
			u, err := p.processOne(gctx, project, id, v.Src)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = sites.ImageValue{Src: u, Layout: v.Layout}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Processor) processOne(ctx context.Context, project, id, src string) (string, error) {
	d, err := DecodeDataURL(src)
	if err != nil {
		p.metrics.IncImage("invalid", 0)
		return "", apperrors.Validationf("image %q: %v", id, err)
	}
	if len(d.Data) <= p.cfg.MaxBytes {
		return p.upload(ctx, project, id, d.Data, d.Ext, "uploaded")
	}

	c, err := Compress(d, p.cfg.MaxBytes, p.cfg.MaxPixels)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			p.metrics.IncImage("too_large", 0)
			return "", apperrors.ResourceLimitf("image %q: %w", id, err)
		}
		p.metrics.IncImage("invalid", 0)
		return "", apperrors.Validationf("image %q: %v", id, err)
	}
	p.log.Debug("image compressed",
		"image_id", id,
		"original_bytes", len(d.Data),
		"compressed_bytes", len(c.Data),
		"quality", c.Quality,
		"width", c.Width,
		"height", c.Height,
	)

	u, err := p.upload(ctx, project, id, c.Data, "jpg", "compressed")
	if err == nil {
		return u, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	p.log.Warn("compressed upload failed, uploading original", "image_id", id, "error", err)
	return p.upload(ctx, project, id, d.Data, d.Ext, "fallback_original")
}

func (p *Processor) upload(ctx context.Context, project, id string, data []byte, ext, outcome string) (string, error) {
	key := ObjectKey(project, id, data, ext)
	if err := p.store.Upload(ctx, key, bytes.NewReader(data), cacheControlImmutable); err != nil {
		p.metrics.IncImage("upload_error", 0)
		return "", fmt.Errorf("upload image %q: %w", id, err)
	}
	p.metrics.IncImage(outcome, len(data))
	return p.store.PublicURL(key), nil
}

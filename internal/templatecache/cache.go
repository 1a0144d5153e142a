// Package templatecache memoizes template HTML, manifests and base
// translations for the life of a worker process.
package templatecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/observability"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

// Source reads files from the artifact repository.
type Source interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Manifest describes a template. Images holds the template's default image
// URLs keyed by marker id.
type Manifest struct {
	Name            string            `yaml:"name"`
	DefaultLanguage string            `yaml:"default_language"`
	Languages       []string          `yaml:"languages"`
	Images          map[string]string `yaml:"images"`
}

type Template struct {
	ID       string
	HTML     []byte
	Manifest Manifest
}

// Cache has no eviction. Entries live until the process exits; a fresh cache
// is built per worker process.
type Cache struct {
	src     Source
	log     *logger.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	templates map[string]*Template
	langs     map[string]map[string]string
	group     singleflight.Group
}

func New(src Source, log *logger.Logger, metrics *observability.Metrics) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		src:       src,
		log:       log.With("component", "TemplateCache"),
		metrics:   metrics,
		templates: map[string]*Template{},
		langs:     map[string]map[string]string{},
	}
}

func TemplatePath(templateID string) string {
	return path.Join("templates", templateID, "index.html")
}

func ManifestPath(templateID string) string {
	return path.Join("templates", templateID, "manifest.yaml")
}

func LanguagePath(templateID, lang string) string {
	return path.Join("templates", templateID, "langs", lang+".json")
}

// Template returns the template, fetching it on first use. Concurrent misses
// for the same id share one fetch.
func (c *Cache) Template(ctx context.Context, templateID string) (*Template, error) {
	c.mu.RLock()
	t, ok := c.templates[templateID]
	c.mu.RUnlock()
	if ok {
		c.metrics.IncTemplateCache("template", "hit")
		return t, nil
	}
	c.metrics.IncTemplateCache("template", "miss")

	v, err, _ := c.group.Do("tpl:"+templateID, func() (interface{}, error) {
		html, err := c.src.ReadFile(ctx, TemplatePath(templateID))
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.Validationf("template %q does not exist", templateID)
			}
			return nil, fmt.Errorf("load template %s: %w", templateID, err)
		}
		manifest, err := c.loadManifest(ctx, templateID)
		if err != nil {
			return nil, err
		}
		t := &Template{ID: templateID, HTML: html, Manifest: manifest}
		c.mu.Lock()
		c.templates[templateID] = t
		c.mu.Unlock()
		c.log.Debug("template cached", "template_id", templateID, "bytes", len(html))
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

func (c *Cache) loadManifest(ctx context.Context, templateID string) (Manifest, error) {
	var m Manifest
	raw, err := c.src.ReadFile(ctx, ManifestPath(templateID))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Manifest{DefaultLanguage: "en"}, nil
		}
		return m, fmt.Errorf("load manifest %s: %w", templateID, err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, apperrors.Validationf("template %q manifest: %v", templateID, err)
	}
	if m.DefaultLanguage == "" {
		m.DefaultLanguage = "en"
	}
	return m, nil
}

// Language returns the base translations for a template. A missing language
// file falls back to the manifest's default language; a template without any
// translation file yields an empty map.
func (c *Cache) Language(ctx context.Context, templateID, lang string) (map[string]string, error) {
	t, err := c.Template(ctx, templateID)
	if err != nil {
		return nil, err
	}
	m, err := c.language(ctx, templateID, lang)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if lang != t.Manifest.DefaultLanguage {
		c.log.Warn("language missing, using default", "template_id", templateID, "language", lang, "default", t.Manifest.DefaultLanguage)
		m, err = c.language(ctx, templateID, t.Manifest.DefaultLanguage)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	return map[string]string{}, nil
}

func (c *Cache) language(ctx context.Context, templateID, lang string) (map[string]string, error) {
	key := templateID + "/" + lang
	c.mu.RLock()
	m, ok := c.langs[key]
	c.mu.RUnlock()
	if ok {
		c.metrics.IncTemplateCache("language", "hit")
		return m, nil
	}
	c.metrics.IncTemplateCache("language", "miss")

	v, err, _ := c.group.Do("lang:"+key, func() (interface{}, error) {
		raw, err := c.src.ReadFile(ctx, LanguagePath(templateID, lang))
		if err != nil {
			return nil, err
		}
		out := map[string]string{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, apperrors.Validationf("template %q language %q: %v", templateID, lang, err)
		}
		c.mu.Lock()
		c.langs[key] = out
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

// Base is the template's own content before customer overrides.
func (c *Cache) Base(ctx context.Context, templateID, lang string) (sites.Content, error) {
	t, err := c.Template(ctx, templateID)
	if err != nil {
		return sites.Content{}, err
	}
	langs, err := c.Language(ctx, templateID, lang)
	if err != nil {
		return sites.Content{}, err
	}
	images := make(map[string]sites.ImageValue, len(t.Manifest.Images))
	for k, v := range t.Manifest.Images {
		images[k] = sites.ImageValue{Src: v}
	}
	return sites.Content{
		Langs:              langs,
		Images:             images,
		TextColors:         map[string]string{},
		SectionBackgrounds: map[string]string{},
	}, nil
}

// Merge overlays overrides on base; override values win. Neither input is modified.
func Merge(base, overrides sites.Content) sites.Content {
	return sites.Content{
		Langs:              mergeStrings(base.Langs, overrides.Langs),
		Images:             mergeImages(base.Images, overrides.Images),
		TextColors:         mergeStrings(base.TextColors, overrides.TextColors),
		SectionBackgrounds: mergeStrings(base.SectionBackgrounds, overrides.SectionBackgrounds),
	}
}

func mergeStrings(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func mergeImages(base, over map[string]sites.ImageValue) map[string]sites.ImageValue {
	out := make(map[string]sites.ImageValue, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

package templatecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

type fakeSource struct {
	files map[string]string
	reads atomic.Int32
}

func (f *fakeSource) ReadFile(ctx context.Context, p string) ([]byte, error) {
	f.reads.Add(1)
	v, ok := f.files[p]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, apperrors.ErrNotFound)
	}
	return []byte(v), nil
}

func newSource() *fakeSource {
	return &fakeSource{files: map[string]string{
		"templates/t1/index.html":    "<html><body><h1 data-text-id=\"hero\">Hi</h1></body></html>",
		"templates/t1/manifest.yaml": "name: Starter\ndefault_language: en\nimages:\n  logo: https://cdn.example.com/logo.png\n",
		"templates/t1/langs/en.json": `{"hero":"Hello","sub":"World"}`,
		"templates/t1/langs/de.json": `{"hero":"Hallo"}`,
	}}
}

func TestTemplateCachesAfterFirstRead(t *testing.T) {
	src := newSource()
	c := New(src, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Template(ctx, "t1"); err != nil {
				t.Errorf("Template: %v", err)
			}
		}()
	}
	wg.Wait()
	before := src.reads.Load()
	tpl, err := c.Template(ctx, "t1")
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if got := src.reads.Load(); got != before {
		t.Fatalf("reads after warm: want=%d got=%d", before, got)
	}
	if tpl.Manifest.Name != "Starter" {
		t.Fatalf("manifest name: want=Starter got=%q", tpl.Manifest.Name)
	}
}

func TestTemplateMissingIsValidation(t *testing.T) {
	c := New(newSource(), nil, nil)
	_, err := c.Template(context.Background(), "nope")
	if apperrors.ClassOf(err) != apperrors.ClassValidation {
		t.Fatalf("class: want=%s got=%s (%v)", apperrors.ClassValidation, apperrors.ClassOf(err), err)
	}
}

func TestManifestOptional(t *testing.T) {
	src := newSource()
	delete(src.files, "templates/t1/manifest.yaml")
	c := New(src, nil, nil)
	tpl, err := c.Template(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if tpl.Manifest.DefaultLanguage != "en" {
		t.Fatalf("default language: want=en got=%q", tpl.Manifest.DefaultLanguage)
	}
}

func TestLanguageFallsBackToDefault(t *testing.T) {
	c := New(newSource(), nil, nil)
	m, err := c.Language(context.Background(), "t1", "fr")
	if err != nil {
		t.Fatalf("Language: %v", err)
	}
	if m["hero"] != "Hello" {
		t.Fatalf("hero: want=Hello got=%q", m["hero"])
	}
	m, err = c.Language(context.Background(), "t1", "de")
	if err != nil {
		t.Fatalf("Language: %v", err)
	}
	if m["hero"] != "Hallo" {
		t.Fatalf("hero: want=Hallo got=%q", m["hero"])
	}
}

func TestLanguageSourceErrorPropagates(t *testing.T) {
	src := &errSource{fakeSource: newSource(), failOn: "templates/t1/langs/en.json"}
	c := New(src, nil, nil)
	_, err := c.Language(context.Background(), "t1", "en")
	if err == nil || errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("want transport error, got %v", err)
	}
}

type errSource struct {
	*fakeSource
	failOn string
}

func (e *errSource) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if p == e.failOn {
		return nil, errors.New("boom")
	}
	return e.fakeSource.ReadFile(ctx, p)
}

func TestBaseAndMerge(t *testing.T) {
	c := New(newSource(), nil, nil)
	base, err := c.Base(context.Background(), "t1", "en")
	if err != nil {
		t.Fatalf("Base: %v", err)
	}
	if base.Images["logo"].Src != "https://cdn.example.com/logo.png" {
		t.Fatalf("logo: got %q", base.Images["logo"].Src)
	}
	over := sites.Content{
		Langs:      map[string]string{"hero": "Custom"},
		TextColors: map[string]string{"hero": "#fff"},
	}
	merged := Merge(base, over)
	if merged.Langs["hero"] != "Custom" || merged.Langs["sub"] != "World" {
		t.Fatalf("merged langs: %v", merged.Langs)
	}
	if merged.TextColors["hero"] != "#fff" {
		t.Fatalf("merged colors: %v", merged.TextColors)
	}
	if base.Langs["hero"] != "Hello" {
		t.Fatalf("base mutated: %v", base.Langs)
	}
}

package inject

import (
	"testing"

	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

func TestValidateRejectsUnsafeText(t *testing.T) {
	bad := []string{
		`<script>alert(1)</script>`,
		`< SCRIPT src=x>`,
		`click javascript:alert(1)`,
		`<img src=x onerror=alert(1)>`,
		`" onclick="steal()`,
	}
	for _, v := range bad {
		c := content()
		c.Langs["k"] = v
		err := Validate(c)
		if err == nil {
			t.Fatalf("expected rejection for %q", v)
		}
		if apperrors.ClassOf(err) != apperrors.ClassValidation {
			t.Fatalf("%q: class want=validation got=%s", v, apperrors.ClassOf(err))
		}
	}
}

func TestValidateAcceptsPlainContent(t *testing.T) {
	c := content()
	c.Langs["h"] = "Welcome <Home> & friends"
	c.Langs["p"] = "Open daily, 9 to 5"
	c.TextColors["h"] = "#1a2b3c"
	c.TextColors["p"] = "rgba(0, 0, 0, 0.5)"
	c.SectionBackgrounds["s"] = "white"
	c.Images["hero"] = sites.ImageValue{Src: "data:image/png;base64,AAAA"}
	c.Images["logo"] = sites.ImageValue{Src: "https://cdn.example.com/l.png"}
	if err := Validate(c); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestValidateColorsAndImages(t *testing.T) {
	c := content()
	c.TextColors["h"] = "red;background:url(x)"
	if Validate(c) == nil {
		t.Fatalf("css injection through color should be rejected")
	}

	c = content()
	c.SectionBackgrounds["s"] = "expression(alert(1))"
	if Validate(c) == nil {
		t.Fatalf("css expression should be rejected")
	}

	c = content()
	c.Images["x"] = sites.ImageValue{Src: "javascript:alert(1)"}
	if Validate(c) == nil {
		t.Fatalf("script URL image should be rejected")
	}

	c = content()
	c.Images["x"] = sites.ImageValue{Src: "data:text/html;base64,PHNjcmlwdD4="}
	if Validate(c) == nil {
		t.Fatalf("non-image data URL should be rejected")
	}
}

func TestIsSafeColor(t *testing.T) {
	for _, ok := range []string{"#fff", "#FFFFFF", "#00000080", "rgb(1,2,3)", "hsl(120, 50%, 50%)", "transparent", "rebeccapurple"} {
		if !IsSafeColor(ok) {
			t.Fatalf("%q should be safe", ok)
		}
	}
	for _, bad := range []string{"", "#ggg", "url(x)", "red !important", "rgb(1,2,3);x"} {
		if IsSafeColor(bad) {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

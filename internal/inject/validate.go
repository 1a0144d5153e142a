package inject

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

var (
	scriptTagRe    = regexp.MustCompile(`(?i)<\s*/?\s*script`)
	jsSchemeRe     = regexp.MustCompile(`(?i)(java|vb)script\s*:`)
	eventHandlerRe = regexp.MustCompile(`(?i)(^|[\s"'/<;])on[a-z]{3,}\s*=`)

	hexColorRe   = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	funcColorRe  = regexp.MustCompile(`^(?i)(rgb|rgba|hsl|hsla)\(\s*[0-9.%,\s/+-]+\)$`)
	namedColorRe = regexp.MustCompile(`^[a-zA-Z]{3,30}$`)
)

// Validate rejects content that must never reach a published page. It runs
// before any substitution and returns a validation-class error naming the
// offending key.
func Validate(c sites.Content) error {
	for _, k := range sortedKeys(c.Langs) {
		v := c.Langs[k]
		switch {
		case scriptTagRe.MatchString(v):
			return apperrors.Validationf("text %q contains a script tag", k)
		case jsSchemeRe.MatchString(v):
			return apperrors.Validationf("text %q contains a script URL", k)
		case eventHandlerRe.MatchString(v):
			return apperrors.Validationf("text %q contains an inline event handler", k)
		}
	}
	for _, k := range sortedKeys(c.TextColors) {
		if !IsSafeColor(c.TextColors[k]) {
			return apperrors.Validationf("text color %q is not a plain CSS color", k)
		}
	}
	for _, k := range sortedKeys(c.SectionBackgrounds) {
		if !IsSafeColor(c.SectionBackgrounds[k]) {
			return apperrors.Validationf("section background %q is not a plain CSS color", k)
		}
	}
	imageKeys := make([]string, 0, len(c.Images))
	for k := range c.Images {
		imageKeys = append(imageKeys, k)
	}
	sort.Strings(imageKeys)
	for _, k := range imageKeys {
		src := strings.TrimSpace(c.Images[k].Src)
		if jsSchemeRe.MatchString(src) {
			return apperrors.Validationf("image %q uses a script URL", k)
		}
		if strings.HasPrefix(strings.ToLower(src), "data:") && !strings.HasPrefix(strings.ToLower(src), "data:image/") {
			return apperrors.Validationf("image %q is not an image data URL", k)
		}
	}
	return nil
}

// IsSafeColor accepts hex, rgb()/hsl() and named colors only.
func IsSafeColor(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	return hexColorRe.MatchString(v) || funcColorRe.MatchString(v) || namedColorRe.MatchString(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

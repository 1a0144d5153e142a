package sites

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the immutable customization snapshot merged into a template.
type Content struct {
	Langs              map[string]string
	Images             map[string]ImageValue
	TextColors         map[string]string
	SectionBackgrounds map[string]string
}

// ImageLayout is the editor position of a drag-repositioned image, in CSS pixels.
type ImageLayout struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	ZIndex int     `json:"zIndex"`
}

// ImageValue is either an already-hosted URL, an embedded data: URL, or
// either of those with a layout. On the wire it is a bare string or an
// object {"src": ..., "layout": {...}}.
type ImageValue struct {
	Src    string       `json:"src"`
	Layout *ImageLayout `json:"layout,omitempty"`
}

func (v ImageValue) IsDataURL() bool {
	return strings.HasPrefix(strings.TrimSpace(v.Src), "data:")
}

func (v *ImageValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = ImageValue{Src: s}
		return nil
	}
	type plain ImageValue
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("image value: %w", err)
	}
	*v = ImageValue(p)
	return nil
}

func (v ImageValue) MarshalJSON() ([]byte, error) {
	if v.Layout == nil {
		return json.Marshal(v.Src)
	}
	type plain ImageValue
	return json.Marshal(plain(v))
}

// ParseImages decodes the stored images column.
func ParseImages(raw []byte) (map[string]ImageValue, error) {
	out := map[string]ImageValue{}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	return out, nil
}

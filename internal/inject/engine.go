// Package inject merges customization content into template HTML.
//
// The engine makes one pass over the template with an HTML tokenizer. Tokens
// without an edit marker are copied byte-for-byte; marked tags are rewritten
// with their attributes merged. Markers are left in place so a published page
// can be edited again.
package inject

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/yungbote/sitegen-backend/internal/domain/sites"
)

// Marker attributes recognized in templates.
const (
	AttrText    = "data-edit-text"
	AttrAlt     = "data-edit-alt"
	AttrTooltip = "data-edit-tooltip"
	AttrMeta    = "data-edit-meta"
	AttrImage   = "data-edit-image"
	AttrBgImage = "data-edit-bg-image"
	AttrSection = "data-edit-section"
	AttrOverlay = "data-edit-overlay"
	AttrCloneOf = "data-edit-clone"
)

const (
	overlayStyle = "position:absolute;left:0;top:0;width:100%;height:0;overflow:visible;pointer-events:none"
	hiddenDecl   = "visibility"
	hiddenValue  = "hidden"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// Inject renders template with content applied. It is pure: identical inputs
// produce identical bytes.
func Inject(template []byte, content sites.Content) ([]byte, error) {
	e := &engine{
		content: content,
		out:     bytes.NewBuffer(make([]byte, 0, len(template)+len(template)/8)),
	}
	if err := e.run(template); err != nil {
		return nil, err
	}
	return e.out.Bytes(), nil
}

type engine struct {
	content sites.Content
	out     *bytes.Buffer
	raw     []byte

	// While skipTag is set the original content of a replaced element is
	// dropped. skipped holds the elements opened inside that content.
	skipTag string
	skipped []string

	clones         []string
	overlayWritten bool
}

func (e *engine) run(src []byte) error {
	z := html.NewTokenizer(bytes.NewReader(src))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return fmt.Errorf("tokenize template: %w", z.Err())
		}
		// Token lowercases the tokenizer buffer in place, so the raw bytes are
		// copied first.
		e.raw = append(e.raw[:0], z.Raw()...)
		raw := e.raw

		var tok html.Token
		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			tok = z.Token()
		}

		if e.skipTag != "" && e.skip(tt, tok, raw) {
			continue
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if !hasMarker(tok.Attr) {
				e.out.Write(raw)
				continue
			}
			e.rewrite(tok, raw, tt == html.SelfClosingTagToken)
		case html.EndTagToken:
			if tok.Data == "body" {
				e.writeOverlay()
			}
			e.out.Write(raw)
		default:
			e.out.Write(raw)
		}
	}
	if e.skipTag != "" {
		e.closeSkipped()
	}
	e.writeOverlay()
	return nil
}

// skip drops tok while a replaced element's original content is open. It
// returns false when tok closes that element implicitly, either as a start
// tag the element cannot contain or as an ancestor's end tag; the caller
// then processes tok normally.
func (e *engine) skip(tt html.TokenType, tok html.Token, raw []byte) bool {
	switch tt {
	case html.StartTagToken:
		for n := len(e.skipped); n > 0 && closedBy(e.skipped[n-1], tok.Data); n-- {
			e.skipped = e.skipped[:n-1]
		}
		if len(e.skipped) == 0 && closedBy(e.skipTag, tok.Data) {
			e.closeSkipped()
			return false
		}
		if !voidElements[tok.Data] {
			e.skipped = append(e.skipped, tok.Data)
		}
	case html.EndTagToken:
		for i := len(e.skipped) - 1; i >= 0; i-- {
			if e.skipped[i] == tok.Data {
				e.skipped = e.skipped[:i]
				return true
			}
		}
		if tok.Data == e.skipTag {
			e.skipTag = ""
			e.skipped = e.skipped[:0]
			e.out.Write(raw)
			return true
		}
		e.closeSkipped()
		return false
	}
	return true
}

// closeSkipped ends a replaced element whose end tag was omitted.
func (e *engine) closeSkipped() {
	e.out.WriteString("</" + e.skipTag + ">")
	e.skipTag = ""
	e.skipped = e.skipped[:0]
}

func hasMarker(attrs []html.Attribute) bool {
	for _, a := range attrs {
		if strings.HasPrefix(a.Key, "data-edit-") {
			return true
		}
	}
	return false
}

func (e *engine) rewrite(tok html.Token, raw []byte, selfClosing bool) {
	el := newElement(tok)
	var text *string

	if id, ok := el.get(AttrText); ok {
		if v, ok := e.content.Langs[id]; ok {
			switch el.name {
			case "input", "button":
				if el.has("placeholder") {
					el.set("placeholder", v)
				} else {
					el.set("value", v)
				}
			case "textarea":
				if el.has("placeholder") {
					el.set("placeholder", v)
				} else {
					text = &v
				}
			default:
				if !voidElements[el.name] {
					text = &v
				}
			}
		}
		if c, ok := e.content.TextColors[id]; ok {
			el.style("color", c)
		}
	}
	if id, ok := el.get(AttrAlt); ok {
		if v, ok := e.content.Langs[id]; ok {
			el.set("alt", v)
		}
	}
	if id, ok := el.get(AttrTooltip); ok {
		if v, ok := e.content.Langs[id]; ok {
			el.set("title", v)
		}
	}
	if id, ok := el.get(AttrMeta); ok {
		if v, ok := e.content.Langs[id]; ok {
			el.set("content", v)
		}
	}
	if id, ok := el.get(AttrImage); ok {
		if img, ok := e.content.Images[id]; ok {
			el.set("src", img.Src)
			if img.Layout != nil {
				e.clones = append(e.clones, cloneTag(el, id, *img.Layout))
				el.style(hiddenDecl, hiddenValue)
			}
		}
	}
	if id, ok := el.get(AttrBgImage); ok {
		if img, ok := e.content.Images[id]; ok {
			el.style("background-image", cssURL(img.Src))
		}
	}
	if id, ok := el.get(AttrSection); ok {
		if c, ok := e.content.SectionBackgrounds[id]; ok {
			el.style("background-color", c)
		}
	}

	switch {
	case text == nil && !el.changed:
		e.out.Write(raw)
	case text == nil:
		e.out.WriteString(el.render(selfClosing))
	case selfClosing:
		e.out.WriteString(el.render(false))
		e.out.WriteString(html.EscapeString(*text))
		e.out.WriteString("</" + el.name + ">")
	default:
		e.out.WriteString(el.render(false))
		e.out.WriteString(html.EscapeString(*text))
		e.skipTag = el.name
		e.skipped = e.skipped[:0]
	}
}

// cloneTag builds the absolutely positioned copy of a repositioned image.
func cloneTag(el *element, id string, layout sites.ImageLayout) string {
	clone := &element{name: el.name}
	for _, a := range el.attrs {
		if strings.HasPrefix(a.Key, "data-edit-") || a.Key == "id" || a.Key == "style" {
			continue
		}
		clone.attrs = append(clone.attrs, a)
	}
	clone.set(AttrCloneOf, id)
	clone.set("style", formatStyle([]declaration{
		{prop: "position", value: "absolute"},
		{prop: "left", value: px(layout.X)},
		{prop: "top", value: px(layout.Y)},
		{prop: "width", value: px(layout.Width)},
		{prop: "height", value: px(layout.Height)},
		{prop: "z-index", value: strconv.Itoa(layout.ZIndex)},
	}))
	return clone.render(false)
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

func (e *engine) writeOverlay() {
	if e.overlayWritten || len(e.clones) == 0 {
		return
	}
	e.overlayWritten = true
	e.out.WriteString(`<div ` + AttrOverlay + ` style="` + overlayStyle + `">`)
	for _, c := range e.clones {
		e.out.WriteString(c)
	}
	e.out.WriteString(`</div>`)
}

type element struct {
	name    string
	attrs   []html.Attribute
	changed bool
}

func newElement(tok html.Token) *element {
	attrs := make([]html.Attribute, len(tok.Attr))
	copy(attrs, tok.Attr)
	return &element{name: tok.Data, attrs: attrs}
}

func (el *element) get(key string) (string, bool) {
	for _, a := range el.attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func (el *element) has(key string) bool {
	_, ok := el.get(key)
	return ok
}

func (el *element) set(key, val string) {
	el.changed = true
	for i := range el.attrs {
		if el.attrs[i].Key == key {
			el.attrs[i].Val = val
			return
		}
	}
	el.attrs = append(el.attrs, html.Attribute{Key: key, Val: val})
}

func (el *element) style(prop, value string) {
	cur, _ := el.get("style")
	el.set("style", mergeStyle(cur, prop, value))
}

func (el *element) render(selfClosing bool) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(el.name)
	for _, a := range el.attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Val))
		b.WriteByte('"')
	}
	if selfClosing {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
	return b.String()
}

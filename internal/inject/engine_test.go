package inject

import (
	"bytes"
	"strings"
	"testing"

	"github.com/yungbote/sitegen-backend/internal/domain/sites"
)

func content() sites.Content {
	return sites.Content{
		Langs:              map[string]string{},
		Images:             map[string]sites.ImageValue{},
		TextColors:         map[string]string{},
		SectionBackgrounds: map[string]string{},
	}
}

func mustInject(t *testing.T, tmpl string, c sites.Content) string {
	t.Helper()
	out, err := Inject([]byte(tmpl), c)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	return string(out)
}

func TestInjectEscapesText(t *testing.T) {
	c := content()
	c.Langs["headline"] = "Welcome <Home>"
	got := mustInject(t, `<h1 data-edit-text="headline">Old</h1>`, c)
	want := `<h1 data-edit-text="headline">Welcome &lt;Home&gt;</h1>`
	if got != want {
		t.Fatalf("want=%s got=%s", want, got)
	}
}

func TestInjectPassesUnmarkedBytesThrough(t *testing.T) {
	tmpl := "<!DOCTYPE html>\n<HTML><Body CLASS=x>Hi &amp; bye<!-- keep --><script>if (a<b) {}</script>" +
		"<h2 data-edit-text='absent'>Keep</h2></Body></HTML>"
	got := mustInject(t, tmpl, content())
	if got != tmpl {
		t.Fatalf("template changed:\nwant=%s\ngot=%s", tmpl, got)
	}
}

func TestInjectReplacesNestedContent(t *testing.T) {
	c := content()
	c.Langs["d"] = "X"
	got := mustInject(t, `<div data-edit-text="d"><div>inner</div>tail</div><span>after</span>`, c)
	want := `<div data-edit-text="d">X</div><span>after</span>`
	if got != want {
		t.Fatalf("want=%s got=%s", want, got)
	}
}

func TestInjectFormControls(t *testing.T) {
	c := content()
	c.Langs["email"] = "Your email"
	c.Langs["cta"] = "Go"
	c.Langs["msg"] = "Hello"
	c.Langs["title"] = "My Site"
	cases := []struct {
		tmpl string
		want string
	}{
		{`<input type="text" placeholder="x" data-edit-text="email">`, `<input type="text" placeholder="Your email" data-edit-text="email">`},
		{`<input data-edit-text="cta">`, `<input data-edit-text="cta" value="Go">`},
		{`<input data-edit-text="cta"/>`, `<input data-edit-text="cta" value="Go"/>`},
		{`<textarea data-edit-text="msg">old</textarea>`, `<textarea data-edit-text="msg">Hello</textarea>`},
		{`<textarea placeholder="p" data-edit-text="msg"></textarea>`, `<textarea placeholder="Hello" data-edit-text="msg"></textarea>`},
		{`<title data-edit-text="title">Old</title>`, `<title data-edit-text="title">My Site</title>`},
	}
	for _, tc := range cases {
		if got := mustInject(t, tc.tmpl, c); got != tc.want {
			t.Fatalf("tmpl=%s\nwant=%s\ngot=%s", tc.tmpl, tc.want, got)
		}
	}
}

func TestInjectTextColorWithoutText(t *testing.T) {
	c := content()
	c.TextColors["p"] = "#ff0000"
	got := mustInject(t, `<p data-edit-text="p" style="margin:0">x</p>`, c)
	want := `<p data-edit-text="p" style="margin:0;color:#ff0000">x</p>`
	if got != want {
		t.Fatalf("want=%s got=%s", want, got)
	}
}

func TestInjectAttributeSlots(t *testing.T) {
	c := content()
	c.Langs["a"] = "Alt text"
	c.Langs["t"] = "Tip"
	c.Langs["desc"] = `Fast "sites"`
	got := mustInject(t, `<img src="a.png" data-edit-alt="a" data-edit-tooltip="t">`+
		`<meta name="description" content="old" data-edit-meta="desc">`, c)
	want := `<img src="a.png" data-edit-alt="a" data-edit-tooltip="t" alt="Alt text" title="Tip">` +
		`<meta name="description" content="Fast &#34;sites&#34;" data-edit-meta="desc">`
	if got != want {
		t.Fatalf("want=%s got=%s", want, got)
	}
}

func TestInjectImagesAndBackgrounds(t *testing.T) {
	c := content()
	c.Images["hero"] = sites.ImageValue{Src: "https://cdn.example.com/x.png"}
	c.Images["bg"] = sites.ImageValue{Src: "https://cdn.example.com/b.png"}
	c.SectionBackgrounds["s1"] = "#fff"
	got := mustInject(t, `<img src="old.png" data-edit-image="hero"><section data-edit-bg-image="bg" data-edit-section="s1"></section>`, c)
	want := `<img src="https://cdn.example.com/x.png" data-edit-image="hero">` +
		`<section data-edit-bg-image="bg" data-edit-section="s1" style="background-image:url(&#39;https://cdn.example.com/b.png&#39;);background-color:#fff"></section>`
	if got != want {
		t.Fatalf("want=%s\ngot=%s", want, got)
	}
}

func TestInjectRepositionedImage(t *testing.T) {
	c := content()
	c.Images["logo"] = sites.ImageValue{
		Src:    "https://cdn.example.com/l.png",
		Layout: &sites.ImageLayout{X: 10, Y: 20.5, Width: 100, Height: 50, ZIndex: 3},
	}
	got := mustInject(t, `<html><body><img src="a.png" data-edit-image="logo" class="l"></body></html>`, c)

	original := `<img src="https://cdn.example.com/l.png" data-edit-image="logo" class="l" style="visibility:hidden">`
	clone := `<img src="https://cdn.example.com/l.png" class="l" data-edit-clone="logo" style="position:absolute;left:10px;top:20.5px;width:100px;height:50px;z-index:3">`
	overlay := `<div data-edit-overlay style="` + overlayStyle + `">`
	for _, part := range []string{original, clone, overlay} {
		if !strings.Contains(got, part) {
			t.Fatalf("missing %s in %s", part, got)
		}
	}
	if strings.Index(got, overlay) > strings.Index(got, "</body>") {
		t.Fatalf("overlay must precede </body>: %s", got)
	}
	if strings.Count(got, AttrOverlay) != 1 {
		t.Fatalf("want one overlay container: %s", got)
	}
}

func TestInjectOverlayWithoutBody(t *testing.T) {
	c := content()
	c.Images["logo"] = sites.ImageValue{Src: "l.png", Layout: &sites.ImageLayout{Width: 1, Height: 1}}
	got := mustInject(t, `<img data-edit-image="logo">`, c)
	if !strings.HasSuffix(got, `</div>`) || !strings.Contains(got, AttrOverlay) {
		t.Fatalf("overlay should be appended at end of document: %s", got)
	}
}

func TestInjectDeterministic(t *testing.T) {
	c := content()
	c.Langs["h"] = "Hi"
	c.TextColors["h"] = "rgb(1, 2, 3)"
	c.SectionBackgrounds["s"] = "teal"
	c.Images["i"] = sites.ImageValue{Src: "https://cdn.example.com/i.png", Layout: &sites.ImageLayout{X: 1}}
	tmpl := []byte(`<body><section data-edit-section="s"><h1 data-edit-text="h">x</h1><img data-edit-image="i"></section></body>`)
	a, err := Inject(tmpl, c)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	b, _ := Inject(tmpl, c)
	if !bytes.Equal(a, b) {
		t.Fatalf("output not deterministic")
	}
	for _, marker := range []string{AttrSection, AttrText, AttrImage} {
		if !bytes.Contains(a, []byte(marker)) {
			t.Fatalf("marker %s should be preserved", marker)
		}
	}
}

func TestMergeStyle(t *testing.T) {
	cases := []struct {
		style, prop, value, want string
	}{
		{"", "color", "red", "color:red"},
		{"margin:0;", "color", "red", "margin:0;color:red"},
		{"COLOR: blue; margin:0", "color", "red", "color:red;margin:0"},
		{"background-image:url('a;b.png')", "color", "red", "background-image:url('a;b.png');color:red"},
	}
	for _, tc := range cases {
		if got := mergeStyle(tc.style, tc.prop, tc.value); got != tc.want {
			t.Fatalf("mergeStyle(%q): want=%q got=%q", tc.style, tc.want, got)
		}
	}
}

func TestInjectOmittedEndTags(t *testing.T) {
	c := content()
	c.Langs["a"] = "First"
	c.Langs["p"] = "Intro"
	c.Langs["cell"] = "1"
	cases := []struct {
		name string
		tmpl string
		want string
	}{
		{
			name: "sibling li",
			tmpl: `<html><body><ul><li data-edit-text="a">x<li>y</ul><footer>Footer</footer></body></html>`,
			want: `<html><body><ul><li data-edit-text="a">First</li><li>y</ul><footer>Footer</footer></body></html>`,
		},
		{
			name: "parent end tag",
			tmpl: `<ul><li data-edit-text="a">x <b>bold</b></ul><p>after</p>`,
			want: `<ul><li data-edit-text="a">First</li></ul><p>after</p>`,
		},
		{
			name: "block after paragraph",
			tmpl: `<body><p data-edit-text="p">old<div>kept</div></body>`,
			want: `<body><p data-edit-text="p">Intro</p><div>kept</div></body>`,
		},
		{
			name: "nested list inside replaced item",
			tmpl: `<ul><li data-edit-text="a">x<ul><li>n1<li>n2</ul><li>z</ul>`,
			want: `<ul><li data-edit-text="a">First</li><li>z</ul>`,
		},
		{
			name: "table cell",
			tmpl: `<table><tr><td data-edit-text="cell">0<td>2</tr></table>`,
			want: `<table><tr><td data-edit-text="cell">1</td><td>2</tr></table>`,
		},
		{
			name: "end of document",
			tmpl: `<li data-edit-text="a">x`,
			want: `<li data-edit-text="a">First</li>`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustInject(t, tc.tmpl, c); got != tc.want {
				t.Fatalf("\nwant=%s\ngot=%s", tc.want, got)
			}
		})
	}
}

func TestInjectOmittedEndTagKeepsOverlay(t *testing.T) {
	c := content()
	c.Langs["a"] = "First"
	c.Images["hero"] = sites.ImageValue{Src: "https://cdn.test/h.png", Layout: &sites.ImageLayout{X: 1, Y: 2, Width: 3, Height: 4}}
	got := mustInject(t, `<body><ul><li data-edit-text="a">x</ul><img data-edit-image="hero" src="a.png"></body>`, c)
	if !strings.Contains(got, "</li></ul>") || !strings.HasSuffix(got, "</div></body>") {
		t.Fatalf("overlay or structure lost: %s", got)
	}
}

package inject

// closedBy reports whether a start tag named next implicitly ends an open
// element named open, per the HTML rules for optional end tags.
func closedBy(open, next string) bool {
	return impliedEnd[open][next]
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var paragraphClosers = set(
	"address", "article", "aside", "blockquote", "details", "dialog", "div", "dl",
	"fieldset", "figcaption", "figure", "footer", "form", "h1", "h2", "h3", "h4",
	"h5", "h6", "header", "hgroup", "hr", "li", "main", "menu", "nav", "ol", "p",
	"pre", "section", "table", "ul",
)

var (
	cellClosers = set("td", "th", "tr", "thead", "tbody", "tfoot")
	termClosers = set("dt", "dd")
	rubyClosers = set("rt", "rp")
)

var impliedEnd = map[string]map[string]bool{
	"p":        paragraphClosers,
	"li":       set("li"),
	"dt":       termClosers,
	"dd":       termClosers,
	"option":   set("option", "optgroup"),
	"optgroup": set("optgroup"),
	"td":       cellClosers,
	"th":       cellClosers,
	"tr":       set("tr", "thead", "tbody", "tfoot"),
	"thead":    set("tbody", "tfoot"),
	"tbody":    set("tbody", "tfoot"),
	"rt":       rubyClosers,
	"rp":       rubyClosers,
}

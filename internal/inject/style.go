package inject

import "strings"

type declaration struct {
	prop  string
	value string
}

// mergeStyle sets prop in an inline style attribute value. Existing
// declarations keep their order; a redeclared property is replaced in place.
func mergeStyle(style, prop, value string) string {
	decls := parseStyle(style)
	prop = strings.ToLower(strings.TrimSpace(prop))
	replaced := false
	for i := range decls {
		if decls[i].prop == prop {
			decls[i].value = value
			replaced = true
		}
	}
	if !replaced {
		decls = append(decls, declaration{prop: prop, value: value})
	}
	return formatStyle(decls)
}

func parseStyle(style string) []declaration {
	var out []declaration
	for _, part := range splitDeclarations(style) {
		idx := strings.IndexByte(part, ':')
		if idx <= 0 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(part[:idx]))
		value := strings.TrimSpace(part[idx+1:])
		if prop == "" {
			continue
		}
		out = append(out, declaration{prop: prop, value: value})
	}
	return out
}

// splitDeclarations splits on ';' outside parentheses and quotes so that
// url('a;b') survives.
func splitDeclarations(style string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(style); i++ {
		c := style[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == ';' && depth == 0:
			parts = append(parts, style[start:i])
			start = i + 1
		}
	}
	if start < len(style) {
		parts = append(parts, style[start:])
	}
	return parts
}

func formatStyle(decls []declaration) string {
	var b strings.Builder
	for i, d := range decls {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(d.prop)
		b.WriteByte(':')
		b.WriteString(d.value)
	}
	return b.String()
}

var cssURLEscaper = strings.NewReplacer(
	`\`, `%5C`,
	`'`, `%27`,
	`"`, `%22`,
	"\n", "",
	"\r", "",
)

// cssURL quotes a URL for use inside url('...').
func cssURL(u string) string {
	return "url('" + cssURLEscaper.Replace(strings.TrimSpace(u)) + "')"
}

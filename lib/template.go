package lib

import (
	"strings"
)

type templatePart struct {
	text  string
	field string
}

type Template struct {
	parts []templatePart
}

// ParseTemplate compiles a format like "{id} ({name}) at {ip}". Placeholders
// must be in known, {{ and }} are literal braces.
func ParseTemplate(format string, known []string) (*Template, error) {
	t := &Template{}
	var text strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch {
		case c == '{' && i+1 < len(format) && format[i+1] == '{':
			text.WriteByte('{')
			i++
		case c == '}' && i+1 < len(format) && format[i+1] == '}':
			text.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(format[i:], '}')
			if end == -1 {
				return nil, &TemplateError{Placeholder: format[i:], Reason: "unterminated"}
			}
			field := strings.TrimSpace(format[i+1 : i+end])
			if field == "" {
				return nil, &TemplateError{Placeholder: format[i : i+end+1], Reason: "empty"}
			}
			if !Contains(known, field) {
				return nil, &TemplateError{Placeholder: field, Reason: "unknown field, expected one of: " + strings.Join(known, ", ")}
			}
			if text.Len() > 0 {
				t.parts = append(t.parts, templatePart{text: text.String()})
				text.Reset()
			}
			t.parts = append(t.parts, templatePart{field: field})
			i += end
		case c == '}':
			return nil, &TemplateError{Placeholder: "}", Reason: "unmatched"}
		default:
			text.WriteByte(c)
		}
	}
	if text.Len() > 0 {
		t.parts = append(t.parts, templatePart{text: text.String()})
	}
	return t, nil
}

// Render substitutes fields, absent ones render empty.
func (t *Template) Render(r Record) string {
	var b strings.Builder
	for _, p := range t.parts {
		if p.field != "" {
			b.WriteString(r.Get(p.field))
		} else {
			b.WriteString(p.text)
		}
	}
	return b.String()
}

// Package util holds small helpers shared across packages but deliberately
// kept out of the public API.
package util

import (
	"bytes"
	"strings"
	"text/template"
)

// funcs are the helpers available inside role-description templates.
var funcs = template.FuncMap{
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// RenderTemplate expands {{.Placeholder}} markers in text against state using
// text/template. Text without markers passes through untouched, and callers
// treat a parse or execute error as "use the text verbatim".
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("role").Funcs(funcs).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}

	return buf.String(), nil
}

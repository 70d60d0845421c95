package evaluation

import (
	"encoding/json"
	"regexp"
	"strings"
)

// narrativeFields are the optional free-text keys an agent may wrap around
// its deliverable when it answers in pure JSON. Extraction concatenates them
// in this order, with the output field last.
var narrativeFields = [...]string{
	"thinking",
	"reasoning",
	"analysis",
	"comments",
	"feedback",
	"suggestions",
	"changes",
}

// fieldPatterns pull string fields out of JSON text that no longer decodes,
// the usual leftovers of an interrupted stream. The closing quote is optional
// so a value truncated mid-string is still recovered.
var fieldPatterns = func() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(narrativeFields)+1)
	for _, field := range append(narrativeFields[:], "output") {
		patterns[field] = regexp.MustCompile(`"` + field + `"\s*:\s*"((?:[^"\\]|\\.)*)"?`)
	}
	return patterns
}()

// ExtractContent separates an agent's deliverable (document text or critique)
// from the JSON evaluation wrapper it arrives in.
//
// If prose precedes the first JSON block, the prose is the deliverable. If
// the response is JSON from the first byte, the recognized narrative fields
// and then the output field are concatenated. Malformed or truncated JSON
// degrades to targeted pattern extraction of the same fields. ExtractContent
// never fails; the worst case returns raw unchanged.
func ExtractContent(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}

	start := jsonStart(trimmed)
	if start == -1 {
		return trimmed
	}
	if prose := strings.TrimSpace(trimmed[:start]); prose != "" {
		return prose
	}

	body := trimmed[start:]
	if i := strings.IndexByte(body, '{'); i >= 0 {
		body = body[i:]
	}
	if obj, ok := firstBalancedObject(body); ok {
		var data map[string]any
		if err := json.Unmarshal([]byte(obj), &data); err == nil {
			if content := narrativeContent(data); content != "" {
				return content
			}
			// Valid JSON with none of the recognized fields: nothing better
			// than the raw response to offer.
			return raw
		}
	}

	if content := patternContent(trimmed); content != "" {
		return content
	}
	return raw
}

// jsonStart locates the beginning of the response's JSON region: a fenced
// json block if present, else the first opening brace.
func jsonStart(s string) int {
	if i := strings.Index(s, "```json"); i != -1 {
		return i
	}
	return strings.IndexByte(s, '{')
}

func narrativeContent(data map[string]any) string {
	var parts []string
	for _, field := range narrativeFields {
		if v, ok := data[field].(string); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	if v, ok := data["output"].(string); ok && strings.TrimSpace(v) != "" {
		parts = append(parts, strings.TrimSpace(v))
	}
	return strings.Join(parts, "\n\n")
}

func patternContent(raw string) string {
	var parts []string
	for _, field := range append(narrativeFields[:], "output") {
		m := fieldPatterns[field].FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		if v := strings.TrimSpace(unescapeJSONString(m[1])); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n\n")
}

// unescapeJSONString decodes the escape sequences inside a JSON string value.
// Truncation can cut an escape sequence in half, in which case the standard
// decoder refuses and the common escapes are substituted directly.
func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err == nil {
		return out
	}
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`).Replace(s)
}

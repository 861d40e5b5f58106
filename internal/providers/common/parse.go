package common

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// CleanHTMLText strips markup and collapses whitespace from a raw HTML
// fragment.
func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// CompactSnippet cleans a raw HTML fragment down to a short single-line
// snippet suitable for error messages and logs.
func CompactSnippet(raw string, maxLen int) string {
	value := CleanHTMLText(raw)
	if value == "" {
		return "empty response body"
	}
	if len(value) <= maxLen {
		return value
	}
	if maxLen < 4 {
		return value[:maxLen]
	}
	return value[:maxLen-3] + "..."
}

// ExtractJSONArray locates marker inside payload and returns the complete
// bracket-balanced JSON array that starts right after it. The marker must end
// with "[". Brackets inside JSON strings are skipped. Returns false when the
// marker is absent or the array never closes.
func ExtractJSONArray(payload, marker string) (string, bool) {
	idx := strings.Index(payload, marker)
	if idx < 0 {
		return "", false
	}
	start := idx + len(marker) - 1
	if start >= len(payload) || payload[start] != '[' {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(payload); i++ {
		ch := payload[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return payload[start : i+1], true
			}
		}
	}
	return "", false
}

package llm

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

var (
	codeFence     = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	fullWidth     = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"：", ":", "，", ",",
		"｛", "{", "｝", "}",
		"［", "[", "］", "]",
	)
)

// LongestObject returns the longest balanced {...} block in s, ignoring
// braces inside JSON strings. It returns "" when there is none.
func LongestObject(s string) string {
	best := ""
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		if end := matchBrace(s, start); end > 0 && end-start+1 > len(best) {
			best = s[start : end+1]
		}
	}
	return best
}

func matchBrace(s string, start int) int {
	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// stripFences removes markdown code fences and any prose before the first
// JSON delimiter.
func stripFences(s string) string {
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
	}
	return s
}

// closeTruncated balances brackets left open by a truncated response. An
// unterminated string is closed, and a dangling key or comma is dropped.
func closeTruncated(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 && !inString {
		return s
	}

	out := s
	if inString {
		out += `"`
	}
	out = strings.TrimRight(out, " \t\r\n")
	out = strings.TrimSuffix(out, ",")
	if strings.HasSuffix(out, ":") {
		// Drop the dangling key and its separator.
		if i := strings.LastIndexAny(out[:len(out)-1], ",{"); i >= 0 {
			if out[i] == ',' {
				out = out[:i]
			} else {
				out = out[:i+1]
			}
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

// repairs are applied cumulatively until the text decodes.
var repairs = []struct {
	name string
	fn   func(string) string
}{
	{"strip_fences", stripFences},
	{"trailing_commas", func(s string) string { return trailingComma.ReplaceAllString(s, "$1") }},
	{"full_width_punctuation", fullWidth.Replace},
	{"close_truncated", closeTruncated},
}

// decodeLenient decodes s as JSON, applying repairs in order until one
// works. It returns the decoded value and the names of the repairs used.
func decodeLenient(s string) (any, []string, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil, true
	}
	var applied []string
	for _, r := range repairs {
		next := r.fn(s)
		if next == s {
			continue
		}
		s = next
		applied = append(applied, r.name)
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v, applied, true
		}
	}
	return nil, applied, false
}

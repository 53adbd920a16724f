package tool

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports model output that could not be recovered into JSON.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\n?(.*?)```")

// StripFences returns the body of the first fenced code block in s, dropping
// the language tag. A lone opening fence is removed as well. Text without
// fences is returned trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
			s = s[i+1:]
		}
	}
	return strings.TrimSpace(s)
}

// normalizeEscapes undoes one level of string escaping that models emit when
// they echo JSON as a quoted string.
func normalizeEscapes(s string) string {
	if unq, err := unquote(s); err == nil {
		s = unq
	}
	r := strings.NewReplacer(`\r\n`, "\n", `\n`, "\n", `\t`, "\t", `\"`, `"`)
	return r.Replace(s)
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("not a quoted string")
	}
	var out string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return "", err
	}
	return out, nil
}

// outerObject returns the span from the first '{' to the last '}'.
func outerObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// ParseJSON decodes model output into v. It tries the raw text, then the
// fence-stripped text, then escape-normalized text, then the outermost
// object. Output that still fails is a *ParseError.
func ParseJSON(raw string, v any) error {
	candidates := make([]string, 0, 4)
	s := strings.TrimSpace(raw)
	candidates = append(candidates, s)
	s = StripFences(s)
	candidates = append(candidates, s)
	s = normalizeEscapes(s)
	candidates = append(candidates, s)
	candidates = append(candidates, outerObject(s))

	var lastErr error
	tried := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := tried[c]; ok {
			continue
		}
		tried[c] = struct{}{}
		if lastErr = json.Unmarshal([]byte(c), v); lastErr == nil {
			return nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("empty output")
	}
	return &ParseError{Raw: raw, Err: lastErr}
}

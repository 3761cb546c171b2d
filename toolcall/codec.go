// Package toolcall implements the plain-text tool-call protocol agents use to
// request side effects:
//
//	TOOL: name {"json": "payload"}
//
// Parse extracts at most one call from a model response. The payload is
// located by balanced-brace scanning so nested objects survive intact.
package toolcall

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Marker introduces a tool call in agent output.
const Marker = "TOOL:"

var (
	// ErrNoCall means the text contains no tool-call marker.
	ErrNoCall = errors.New("no tool call")
	// ErrMalformed means a marker was found without a name or payload.
	ErrMalformed = errors.New("malformed tool call")
	// ErrTruncated means the payload braces never balanced.
	ErrTruncated = errors.New("truncated tool call payload")
	// ErrInvalidJSON means the balanced payload is not valid JSON.
	ErrInvalidJSON = errors.New("invalid tool call payload")
)

// Invocation is one tool call extracted from an agent turn.
type Invocation struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// Args returns the payload as an object, or nil when it is not one.
func (inv Invocation) Args() map[string]any {
	m, _ := inv.Payload.(map[string]any)
	return m
}

// Intended reports whether err means the agent tried to call a tool but the
// call could not be decoded.
func Intended(err error) bool {
	return err != nil && !errors.Is(err, ErrNoCall)
}

// Parse returns the first tool call in text. Every failure returns a zero
// Invocation, so a partial call is never executed.
func Parse(text string) (Invocation, error) {
	body := stripFences(text)

	at := strings.Index(body, Marker)
	if at < 0 {
		return Invocation{}, ErrNoCall
	}
	rest := body[at+len(Marker):]

	i := skipSpace(rest, 0)
	j := i
	for j < len(rest) && isIdentByte(rest[j], j == i) {
		j++
	}
	if j == i {
		return Invocation{}, fmt.Errorf("%w: missing tool name", ErrMalformed)
	}
	name := rest[i:j]

	open := strings.IndexByte(rest[j:], '{')
	if open < 0 {
		return Invocation{}, fmt.Errorf("%w: %s has no payload", ErrMalformed, name)
	}
	start := j + open
	end, ok := matchBrace(rest, start)
	if !ok {
		return Invocation{}, fmt.Errorf("%w: %s", ErrTruncated, name)
	}

	var payload any
	if err := json.Unmarshal([]byte(rest[start:end+1]), &payload); err != nil {
		return Invocation{}, fmt.Errorf("%w: %s: %v", ErrInvalidJSON, name, err)
	}
	return Invocation{Name: name, Payload: payload}, nil
}

// matchBrace returns the index of the brace closing the one at start.
// Braces inside JSON string literals are ignored.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for k := start; k < len(s); k++ {
		c := s[k]
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
				return k, true
			}
		}
	}
	return 0, false
}

// stripFences removes markdown fence runs (``` or ~~~) and the info string
// of an opening fence. Text sharing a line with a fence is kept.
func stripFences(text string) string {
	if !strings.Contains(text, "```") && !strings.Contains(text, "~~~") {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		run := fenceRun(trimmed)
		if run == "" {
			continue
		}
		inner := strings.TrimSpace(trimmed[len(run):])
		inner = strings.TrimSpace(strings.TrimRight(inner, run[:1]))
		word, rest := inner, ""
		if k := strings.IndexAny(inner, " \t"); k >= 0 {
			word, rest = inner[:k], strings.TrimSpace(inner[k:])
		}
		if isInfoString(word) {
			inner = rest
		}
		lines[i] = inner
	}
	return strings.Join(lines, "\n")
}

// fenceRun returns the leading run of fence characters, or "" when line
// does not open with at least three of them.
func fenceRun(line string) string {
	if !strings.HasPrefix(line, "```") && !strings.HasPrefix(line, "~~~") {
		return ""
	}
	n := 3
	for n < len(line) && line[n] == line[0] {
		n++
	}
	return line[:n]
}

// isInfoString reports whether word is a fence language tag such as "json".
func isInfoString(word string) bool {
	return word != "" && !strings.HasPrefix(word, Marker) && !strings.ContainsAny(word, "{}")
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case first:
		return false
	case c >= '0' && c <= '9', c == '-', c == '.':
		return true
	}
	return false
}

// Render writes inv in wire form.
func Render(name string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return Marker + " " + name + " " + string(b), nil
}

// FormatResult renders a tool result as the next conversational turn.
func FormatResult(name string, result any) string {
	return fmt.Sprintf("Tool '%s' output:\n%s\n\nWhat is the next step?", name, stringify(result))
}

// FormatError renders a failed tool execution as the next turn.
func FormatError(name string, err error) string {
	return fmt.Sprintf("Tool '%s' failed:\n%v\n\nWhat is the next step?", name, err)
}

// FormatParseError tells the agent its call could not be decoded.
func FormatParseError(err error) string {
	return fmt.Sprintf("Your tool call could not be parsed (%v). "+
		"Use exactly one line of the form %s tool_name {\"key\": \"value\"} with a complete JSON object, "+
		"or reply without %s to give your final answer.", err, Marker, Marker)
}

func stringify(v any) string {
	switch r := v.(type) {
	case nil:
		return "(no output)"
	case string:
		return r
	case []byte:
		return string(r)
	case fmt.Stringer:
		return r.String()
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

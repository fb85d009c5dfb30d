package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseableResponse is returned when a model response does not contain
// a JSON object that survives every repair attempt.
var ErrUnparseableResponse = errors.New("response could not be interpreted as structured data")

// ParseJSONResponse decodes the single JSON object embedded in a model
// response into v. Repairs are best effort: each stage is tried in turn and
// the first one that decodes wins.
//
//  1. strip a ```json fence, else a generic ``` fence
//  2. keep the text from the first '{' to the last '}'
//  3. decode as is
//  4. escape raw newlines, carriage returns and tabs inside string literals
//  5. escape them everywhere, then undo double escaping
func ParseJSONResponse(text string, v any) error {
	candidate, ok := jsonCandidate(text)
	if !ok {
		return fmt.Errorf("%w: no JSON object found", ErrUnparseableResponse)
	}

	var lastErr error
	for _, attempt := range []string{
		candidate,
		escapeControlInStrings(candidate),
		escapeControlEverywhere(candidate),
	} {
		err := json.Unmarshal([]byte(attempt), v)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrUnparseableResponse, lastErr)
}

func jsonCandidate(text string) (string, bool) {
	text = StripFence(text, "json")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// StripFence returns the body of the first ```lang fence, else of the first
// generic ``` fence, else text unchanged. An unterminated fence runs to the
// end of the text.
func StripFence(text, lang string) string {
	if lang != "" {
		marker := "```" + lang
		if i := strings.Index(text, marker); i != -1 {
			return fenceBody(text[i+len(marker):])
		}
	}
	if i := strings.Index(text, "```"); i != -1 {
		return fenceBody(text[i+3:])
	}
	return text
}

func fenceBody(rest string) string {
	if end := strings.Index(rest, "```"); end != -1 {
		return rest[:end]
	}
	return rest
}

// escapeControlInStrings escapes raw \n, \r and \t that occur inside JSON
// string literals, leaving structural whitespace alone.
func escapeControlInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && inString:
			escaped = true
			b.WriteRune(r)
		case r == '"':
			inString = !inString
			b.WriteRune(r)
		case inString && r == '\n':
			b.WriteString(`\n`)
		case inString && r == '\r':
			b.WriteString(`\r`)
		case inString && r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	blanketEscaper = strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`)
	doubleEscapes  = strings.NewReplacer(`\\n`, `\n`, `\\r`, `\r`, `\\t`, `\t`)
)

func escapeControlEverywhere(s string) string {
	return doubleEscapes.Replace(blanketEscaper.Replace(s))
}

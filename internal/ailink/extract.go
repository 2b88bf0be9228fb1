package ailink

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

const fence = "```"

// A tag only counts when a line break follows it, so ```foo``` is body "foo".
var fenceBlock = regexp.MustCompile("(?s)```(?:([A-Za-z0-9_+.-]*)[ \t]*\r?\n)?(.*?)```")

// StripFences returns the body of the first ```json fence, else the first
// fence of any tag, else text unchanged.
func StripFences(text string) string {
	matches := fenceBlock.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		if strings.EqualFold(m[1], "json") {
			return m[2]
		}
	}
	if len(matches) > 0 {
		return matches[0][2]
	}

	// Unterminated fence: keep everything after the opening line.
	if idx := strings.Index(text, fence); idx >= 0 {
		rest := text[idx+len(fence):]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[\"") {
			rest = rest[nl+1:]
		}
		return rest
	}
	return text
}

// ScanObject trims text and, unless it already starts with '{', narrows it to
// the span between the first '{' and the last '}'.
func ScanObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") {
		return text
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

// Extract normalizes raw model output. Without a schema it returns the trimmed
// text. With a schema it recovers one JSON object and validates it.
func Extract(raw string, s Schema) (string, json.RawMessage, error) {
	if s == nil {
		return strings.TrimSpace(raw), nil, nil
	}

	candidate := ScanObject(StripFences(raw))

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return "", nil, &SchemaValidationError{
			Schema: s.Name(),
			Reason: "no parseable JSON object: " + safeOneLine(err.Error()),
			Raw:    raw,
			Err:    err,
		}
	}

	if err := s.Validate([]byte(candidate)); err != nil {
		return "", nil, &SchemaValidationError{
			Schema: s.Name(),
			Reason: safeOneLine(err.Error()),
			Raw:    raw,
			Err:    err,
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(candidate)); err != nil {
		return "", nil, &SchemaValidationError{Schema: s.Name(), Reason: err.Error(), Raw: raw, Err: err}
	}
	return "", json.RawMessage(buf.Bytes()), nil
}

package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrEmptyInput  = errors.New("jsonutil: empty input")
	ErrNoJSONArray = errors.New("jsonutil: no json array found")
)

// DecodeWithFallback decodes a JSON payload that may be wrapped in markdown
// code fences or surrounded by free text. It tries the raw input first, then
// progressively more aggressive extraction before giving up.
func DecodeWithFallback(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrEmptyInput
	}
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}

	stripped := StripCodeFences(raw)
	if stripped != raw {
		if err := json.Unmarshal([]byte(stripped), out); err == nil {
			return nil
		}
	}

	if candidate, ok := firstBalancedPayload(stripped); ok {
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("jsonutil: input is not valid json")
}

// FirstJSONArray returns the first balanced top-level JSON array inside raw.
// Free text before or after the array is ignored; code fences are stripped.
func FirstJSONArray(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyInput
	}
	raw = StripCodeFences(raw)

	// Try every '[' as a candidate start; earlier brackets may belong to
	// surrounding prose and never close.
	for start := 0; start < len(raw); start++ {
		if raw[start] != '[' {
			continue
		}
		if candidate, ok := scanBalancedArray(raw, start); ok {
			if gjson.Valid(candidate) {
				return candidate, nil
			}
		}
	}

	// Aggressive fallback: widest bracket span.
	first := strings.IndexByte(raw, '[')
	last := strings.LastIndexByte(raw, ']')
	if first >= 0 && last > first {
		candidate := strings.TrimSpace(raw[first : last+1])
		if gjson.Valid(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNoJSONArray
}

func scanBalancedArray(raw string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
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
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// StripCodeFences removes a single wrapping markdown code fence, with or
// without a language tag.
func StripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		head := strings.TrimSpace(s[:idx])
		if head == "" || isFenceLanguageTag(head) {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isFenceLanguageTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return len(s) <= 16
}

func firstBalancedPayload(raw string) (string, bool) {
	objStart := strings.IndexByte(raw, '{')
	arrStart := strings.IndexByte(raw, '[')
	start := objStart
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start = arrStart
	}
	if start < 0 {
		return "", false
	}
	var end int
	if raw[start] == '{' {
		end = strings.LastIndexByte(raw, '}')
	} else {
		end = strings.LastIndexByte(raw, ']')
	}
	if end <= start {
		return "", false
	}
	candidate := strings.TrimSpace(raw[start : end+1])
	return candidate, gjson.Valid(candidate)
}

package engine

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON value out of noisy free-form engine output.
// Strategies are tried in order, first success wins:
//
//  1. the whole trimmed text parses as JSON
//  2. a ```json fenced block whose interior parses
//  3. any fenced block whose interior parses
//  4. first balanced {...} segment that parses
//  5. first balanced [...] segment that parses
//
// When nothing validates the trimmed text is returned unchanged, so callers
// always receive usable text.
func ExtractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return trimmed
	}

	if json.Valid([]byte(trimmed)) {
		return trimmed
	}

	if inner, ok := fencedBlock(trimmed, true); ok {
		return inner
	}
	if inner, ok := fencedBlock(trimmed, false); ok {
		return inner
	}

	if segment, ok := balancedSegment(trimmed, '{', '}'); ok {
		return segment
	}
	if segment, ok := balancedSegment(trimmed, '[', ']'); ok {
		return segment
	}

	return trimmed
}

// fencedBlock finds the first ``` fenced block and returns its interior if
// it parses as JSON. When jsonTagged is true only blocks opened with a
// "json" language tag are considered.
func fencedBlock(text string, jsonTagged bool) (string, bool) {
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			return "", false
		}

		afterFence := rest[open+3:]
		newline := strings.IndexByte(afterFence, '\n')
		if newline < 0 {
			return "", false
		}

		tag := strings.ToLower(strings.TrimSpace(afterFence[:newline]))
		body := afterFence[newline+1:]

		closing := strings.Index(body, "```")
		if closing < 0 {
			return "", false
		}

		if !jsonTagged || tag == "json" {
			inner := strings.TrimSpace(body[:closing])
			if json.Valid([]byte(inner)) {
				return inner, true
			}
		}

		rest = body[closing+3:]
	}
}

// balancedSegment scans for the first balanced open..close run, tracking
// string literals so that quoted braces never terminate the scan early.
// The candidate segment is validated by parsing before being returned.
func balancedSegment(text string, open, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			if inString {
				escaped = true
			}
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				segment := text[start : i+1]
				if json.Valid([]byte(segment)) {
					return segment, true
				}
				return "", false
			}
		}
	}

	return "", false
}

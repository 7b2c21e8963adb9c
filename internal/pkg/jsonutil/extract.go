package jsonutil

import (
	"strings"
)

const codeFence = "```"

// ExtractJSON pulls the first complete JSON value out of free-form model
// output. Fenced blocks win; otherwise the first balanced object is taken,
// then the first balanced array.
func ExtractJSON(raw string) (string, bool) {
	out, _, ok := extract(raw)
	return out, ok
}

func ExtractJSONWithOffset(raw string) (string, int, bool) {
	return extract(raw)
}

// ExtractArray returns the first balanced JSON array in raw.
func ExtractArray(raw string) (string, bool) {
	out, _, ok := balanced(strings.TrimSpace(raw), '[', ']')
	return out, ok
}

func extract(raw string) (string, int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", -1, false
	}
	if block, offset, ok := extractFromFence(raw); ok {
		return block, offset, true
	}
	if obj, offset, ok := balanced(raw, '{', '}'); ok {
		return obj, offset, true
	}
	return balanced(raw, '[', ']')
}

func extractFromFence(raw string) (string, int, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", -1, false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", -1, false
	}
	block := rest[:end]
	offset := start + len(codeFence)
	// drop a language tag such as "json"
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
			offset += idx + 1
		}
	}
	if obj, rel, ok := balanced(block, '{', '}'); ok {
		return obj, offset + rel, true
	}
	if arr, rel, ok := balanced(block, '[', ']'); ok {
		return arr, offset + rel, true
	}
	return "", -1, false
}

// balanced returns the first open..close span whose brackets balance,
// skipping brackets that appear inside string literals.
func balanced(raw string, open, close byte) (string, int, bool) {
	start := strings.IndexByte(raw, open)
	if start == -1 {
		return "", -1, false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), start, true
			}
		}
	}
	return "", -1, false
}

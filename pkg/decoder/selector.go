package decoder

import (
	"strings"
)

const (
	// SelectorBytes is the length of an EVM function selector
	SelectorBytes = 4

	// selectorHexLen is the number of hex characters of a selector
	selectorHexLen = SelectorBytes * 2
)

// ExtractSelector returns the lowercase 0x-prefixed 4-byte selector of call data.
// It returns false for empty input, input shorter than a selector, or non-hex input.
func ExtractSelector(data string) (string, bool) {
	body, ok := hexBody(data)
	if !ok || len(body) < selectorHexLen {
		return "", false
	}
	return "0x" + strings.ToLower(body[:selectorHexLen]), true
}

// ExtractParameters returns the hex encoded bytes following the selector,
// preserving their original case. It returns false when no parameter bytes exist.
func ExtractParameters(data string) (string, bool) {
	body, ok := hexBody(data)
	if !ok || len(body) <= selectorHexLen {
		return "", false
	}
	return body[selectorHexLen:], true
}

// NormalizeSelector lowercases and 0x-prefixes a selector given in any case,
// with or without prefix. It returns false when the input is not a 4-byte hex string.
func NormalizeSelector(selector string) (string, bool) {
	body, ok := hexBody(selector)
	if !ok || len(body) != selectorHexLen {
		return "", false
	}
	return "0x" + strings.ToLower(body), true
}

// hexBody strips an optional 0x prefix and checks the remainder is an even
// length hex string.
func hexBody(data string) (string, bool) {
	body := data
	if len(body) >= 2 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X') {
		body = body[2:]
	}
	if body == "" || len(body)%2 != 0 {
		return "", false
	}
	for i := 0; i < len(body); i++ {
		if !isHexChar(body[i]) {
			return "", false
		}
	}
	return body, true
}

func isHexChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

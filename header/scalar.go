package header

import (
	"strconv"
	"strings"

	"braces.dev/errtrace"
)

func isCallID(s string) bool {
	w, host, ok := strings.Cut(s, "@")
	if !isWord(w) {
		return false
	}
	return !ok || isWord(host)
}

// ParseCallID validates a Call-ID value: word["@"word].
func ParseCallID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !isCallID(s) {
		return "", errtrace.Wrap(newHeaderError("call-id", "malformed %q", s))
	}
	return s, nil
}

// ParseContentLength parses a non-negative decimal length.
func ParseContentLength(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !isDigits(s) {
		return 0, errtrace.Wrap(newHeaderError("content-length", "malformed %q", s))
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errtrace.Wrap(newHeaderError("content-length", err))
	}
	return n, nil
}

// ParseMaxForwards parses the Max-Forwards hop count, 0..255.
func ParseMaxForwards(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !isDigits(s) {
		return 0, errtrace.Wrap(newHeaderError("max-forwards", "malformed %q", s))
	}
	n, err := strconv.Atoi(s)
	if err != nil || n > 255 {
		return 0, errtrace.Wrap(newHeaderError("max-forwards", "out of range %q", s))
	}
	return n, nil
}

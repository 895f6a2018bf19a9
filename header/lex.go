package header

import (
	"fmt"
	"strings"

	"github.com/ghettovoice/sipcore/internal/errorutil"
)

// ErrInvalidHeader is returned when a header value fails its grammar.
const ErrInvalidHeader errorutil.Error = "invalid header"

func newHeaderError(name string, args ...any) error {
	return fmt.Errorf("%s: %w", name, errorutil.NewWrapperError(ErrInvalidHeader, args...)) //errtrace:skip
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-.!%*_+`'~", c) >= 0
}

// IsToken reports whether s is a non-empty RFC 3261 token.
func IsToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

func isWordChar(c byte) bool {
	return isTokenChar(c) || strings.IndexByte(`()<>:\"/[]?{}`, c) >= 0
}

// isWord reports whether s is a non-empty RFC 3261 word.
func isWord(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isWordChar(s[i]) {
			return false
		}
	}
	return true
}

func isLWS(c byte) bool { return c == ' ' || c == '\t' }

func skipLWS(s string, i int) int {
	for i < len(s) && isLWS(s[i]) {
		i++
	}
	return i
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

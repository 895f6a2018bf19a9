package util

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// RandString returns n random lower-case alphanumeric characters taken from
// a chain of random UUIDs.
func RandString(n int) string {
	sb := GetStringBuilder()
	defer FreeStringBuilder(sb)

	for sb.Len() < n {
		sb.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return sb.String()[:n]
}

// RandInt returns a pseudo-random number in [lo, hi).
func RandInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo) //nolint:gosec
}

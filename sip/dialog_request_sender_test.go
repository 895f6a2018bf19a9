package sip_test

import (
	"testing"
	"time"

	"github.com/ghettovoice/sipcore/sip"
)

func TestGlareRetryDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		role   sip.DialogRole
		lo, hi time.Duration
	}{
		{"UAC", sip.DialogRoleUAC, 2100 * time.Millisecond, 4 * time.Second},
		{"UAS", sip.DialogRoleUAS, 0, 2 * time.Second},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			for range 1000 {
				if got := sip.GlareRetryDelay(c.role); got < c.lo || got >= c.hi {
					t.Fatalf("sip.GlareRetryDelay(%s) = %v, want in [%v, %v)", c.role, got, c.lo, c.hi)
				}
			}
		})
	}
}

package sip

import (
	"cmp"
	"encoding/json"
	"time"

	"braces.dev/errtrace"
)

// RFC 3261 base timer values, used when a [TimingConfig] leaves them unset.
const (
	// T1 is the round-trip time estimate.
	T1 = 500 * time.Millisecond
	// T2 caps the retransmission interval of non-INVITE requests and INVITE responses.
	T2 = 4 * time.Second
	// T4 is how long a message may stay in the network.
	T4 = 5 * time.Second
	// TimeD is how long the INVITE client transaction absorbs response retransmissions.
	TimeD = 32 * time.Second
	// TimeProvisional is the interval of provisional response retransmissions
	// sent by the INVITE server transaction.
	TimeProvisional = 60 * time.Second
)

// TimingConfig holds the base timer values of the transaction layer.
// The zero value uses [T1], [T2], [T4], [TimeD] and [TimeProvisional],
// timers A to M are derived from the base values.
type TimingConfig struct {
	base timingBase
}

type timingBase struct {
	T1              time.Duration `json:"t1,omitempty"`
	T2              time.Duration `json:"t2,omitempty"`
	T4              time.Duration `json:"t4,omitempty"`
	TimeD           time.Duration `json:"time_d,omitempty"`
	TimeProvisional time.Duration `json:"time_provisional,omitempty"`
}

// NewTimings returns a timing config with the given base values.
// Zero arguments keep the defaults.
func NewTimings(t1, t2, t4, timeD, timeProv time.Duration) TimingConfig {
	return TimingConfig{timingBase{t1, t2, t4, timeD, timeProv}}
}

// IsZero reports whether all base values are defaults.
func (c TimingConfig) IsZero() bool { return c.base == timingBase{} }

func (c TimingConfig) T1() time.Duration { return cmp.Or(c.base.T1, T1) }

func (c TimingConfig) T2() time.Duration { return cmp.Or(c.base.T2, T2) }

func (c TimingConfig) T4() time.Duration { return cmp.Or(c.base.T4, T4) }

func (c TimingConfig) TimeD() time.Duration { return cmp.Or(c.base.TimeD, TimeD) }

func (c TimingConfig) TimeProvisional() time.Duration {
	return cmp.Or(c.base.TimeProvisional, TimeProvisional)
}

// INVITE client transaction.

// TimeA is the first INVITE retransmission interval, T1.
func (c TimingConfig) TimeA() time.Duration { return c.T1() }

// TimeB is the INVITE transaction timeout, 64*T1.
func (c TimingConfig) TimeB() time.Duration { return 64 * c.T1() }

// TimeC is the proxy INVITE timeout, 600*T1.
func (c TimingConfig) TimeC() time.Duration { return 600 * c.T1() }

// TimeM is how long forked 2xx responses are passed up, 64*T1.
func (c TimingConfig) TimeM() time.Duration { return 64 * c.T1() }

// Non-INVITE client transaction.

// TimeE is the first request retransmission interval, T1.
func (c TimingConfig) TimeE() time.Duration { return c.T1() }

// TimeF is the non-INVITE transaction timeout, 64*T1.
func (c TimingConfig) TimeF() time.Duration { return 64 * c.T1() }

// TimeK absorbs response retransmissions, T4.
func (c TimingConfig) TimeK() time.Duration { return c.T4() }

// INVITE server transaction.

// TimeG is the first final response retransmission interval, T1.
func (c TimingConfig) TimeG() time.Duration { return c.T1() }

// TimeH is the ACK wait timeout, 64*T1.
func (c TimingConfig) TimeH() time.Duration { return 64 * c.T1() }

// TimeI absorbs ACK retransmissions, T4.
func (c TimingConfig) TimeI() time.Duration { return c.T4() }

// TimeL absorbs INVITE retransmissions after a 2xx, 64*T1.
func (c TimingConfig) TimeL() time.Duration { return 64 * c.T1() }

// Non-INVITE server transaction.

// TimeJ absorbs request retransmissions, 64*T1.
func (c TimingConfig) TimeJ() time.Duration { return 64 * c.T1() }

// unreliable returns d for unreliable transports and zero otherwise.
// Timers D, I, J and K only absorb retransmissions.
func unreliable(reliable bool, d time.Duration) time.Duration {
	if reliable {
		return 0
	}
	return d
}

func (c TimingConfig) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(json.Marshal(c.base))
}

func (c *TimingConfig) UnmarshalJSON(data []byte) error {
	var b timingBase
	if err := json.Unmarshal(data, &b); err != nil {
		return errtrace.Wrap(err)
	}
	c.base = b
	return nil
}

package transaction

import (
	"encoding/json"
	"time"

	"braces.dev/errtrace"
)

// RFC 3261 base timer values.
const (
	// T1 is the round-trip time estimate.
	T1 = 500 * time.Millisecond
	// T2 caps retransmit intervals of non-INVITE requests and INVITE responses.
	T2 = 4 * time.Second
	// T4 is the maximum lifetime of a message in the network.
	T4 = 5 * time.Second
	// TimeD is the wait time for final response retransmits over unreliable transport.
	TimeD = 32 * time.Second
)

// Timings is a set of SIP timer values.
// Zero fields fall back to [T1], [T2], [T4] and [TimeD],
// other timers are derived from the base values as in RFC 3261 Table 4.
type Timings struct {
	t1, t2, t4, timeD time.Duration
}

// NewTimings returns timings with the given base values.
func NewTimings(t1, t2, t4, timeD time.Duration) Timings {
	return Timings{t1, t2, t4, timeD}
}

func (c Timings) T1() time.Duration {
	if c.t1 <= 0 {
		return T1
	}
	return c.t1
}

func (c Timings) T2() time.Duration {
	if c.t2 <= 0 {
		return T2
	}
	return c.t2
}

func (c Timings) T4() time.Duration {
	if c.t4 <= 0 {
		return T4
	}
	return c.t4
}

// TimeA is the first INVITE retransmit interval.
func (c Timings) TimeA() time.Duration { return c.T1() }

// TimeB is the INVITE client transaction timeout.
func (c Timings) TimeB() time.Duration { return 64 * c.T1() }

func (c Timings) TimeD() time.Duration {
	if c.timeD <= 0 {
		return TimeD
	}
	return c.timeD
}

// TimeE is the first non-INVITE retransmit interval.
func (c Timings) TimeE() time.Duration { return c.T1() }

// TimeF is the non-INVITE client transaction timeout.
func (c Timings) TimeF() time.Duration { return 64 * c.T1() }

// TimeG is the first INVITE final response retransmit interval.
func (c Timings) TimeG() time.Duration { return c.T1() }

// TimeH is the ACK wait timeout.
func (c Timings) TimeH() time.Duration { return 64 * c.T1() }

// TimeI is the ACK retransmits wait time.
func (c Timings) TimeI() time.Duration { return c.T4() }

// TimeJ is the non-INVITE request retransmits wait time.
func (c Timings) TimeJ() time.Duration { return 64 * c.T1() }

// TimeK is the non-INVITE response retransmits wait time.
func (c Timings) TimeK() time.Duration { return c.T4() }

// TimeM is the wait time for 2xx retransmits and forked 2xx in Accepted state.
func (c Timings) TimeM() time.Duration { return 64 * c.T1() }

func (c Timings) IsZero() bool {
	return c.t1 == 0 && c.t2 == 0 && c.t4 == 0 && c.timeD == 0
}

type timingsData struct {
	T1    time.Duration `json:"t1,omitempty"`
	T2    time.Duration `json:"t2,omitempty"`
	T4    time.Duration `json:"t4,omitempty"`
	TimeD time.Duration `json:"time_d,omitempty"`
}

func (c Timings) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(json.Marshal(timingsData{c.t1, c.t2, c.t4, c.timeD}))
}

func (c *Timings) UnmarshalJSON(data []byte) error {
	var d timingsData
	if err := json.Unmarshal(data, &d); err != nil {
		return errtrace.Wrap(err)
	}
	*c = Timings{d.T1, d.T2, d.T4, d.TimeD}
	return nil
}

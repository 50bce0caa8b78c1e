package backoff

import (
	"strconv"
	"strings"
	"time"
)

// defaultDelays is used when no usable sequence is configured.
var defaultDelays = []time.Duration{1 * time.Second, 3 * time.Second, 8 * time.Second}

// Policy maps a 1-based attempt number to the delay before the next attempt.
// The configured sequence is clamped at its last element. Policies are pure
// values and safe for concurrent use.
type Policy struct {
	delays []time.Duration
}

// New builds a policy from an explicit delay sequence, falling back to the
// default sequence when the slice is empty.
func New(delays []time.Duration) Policy {
	if len(delays) == 0 {
		return Policy{delays: defaultDelays}
	}
	out := make([]time.Duration, len(delays))
	copy(out, delays)
	return Policy{delays: out}
}

// Parse reads a comma-separated list of delays in seconds (e.g. "1,3,8").
// Unparsable entries are skipped; an empty result yields the default sequence.
func Parse(csv string) Policy {
	var out []time.Duration
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			continue
		}
		out = append(out, time.Duration(f*float64(time.Second)))
	}
	return New(out)
}

// Delay returns the wait before retrying after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	delays := p.delays
	if len(delays) == 0 {
		delays = defaultDelays
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

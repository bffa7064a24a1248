package relay

import "time"

// Policy maps a consecutive-failure count to the delay before the next
// connection attempt, and decides when to stop trying. Pure; the supervisor
// owns the counter.
type Policy struct {
	Base        time.Duration
	MaxShift    int // delay is capped at Base << MaxShift
	MaxAttempts int
}

// NextDelay returns the wait before attempt n, where n is the number of
// consecutive failures so far (1 after the first failure). The delay doubles
// per failure from Base and caps at Base << MaxShift.
func (p Policy) NextDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > p.MaxShift {
		shift = p.MaxShift
	}
	return p.Base << uint(shift)
}

// GiveUp reports whether the attempt budget is exhausted.
func (p Policy) GiveUp(attempt int) bool {
	return attempt >= p.MaxAttempts
}

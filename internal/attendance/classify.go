package attendance

import "time"

// DefaultGrace is the tolerance after the expected start before an arrival
// counts as late.
const DefaultGrace = 15 * time.Minute

// Classify derives a status from the clock-in time and the subject's expected
// start. Without an expected start nobody can be late.
func Classify(entry *time.Time, ref *TimeOfDay, grace time.Duration) Status {
	if entry == nil {
		return StatusAbsent
	}
	if ref == nil {
		return StatusPresent
	}
	deadline := ref.On(*entry).Add(grace)
	if entry.After(deadline) {
		return StatusLate
	}
	return StatusPresent
}

package attendance

import (
	"fmt"
	"time"
)

// ZeroDuration is shown when there is nothing to measure yet.
const ZeroDuration = "00h 00min"

// Worked returns the time worked between clockIn and clockOut minus the
// break allowance, floored to whole minutes and never negative. An open
// entry (nil clockOut) is measured up to now.
func Worked(clockIn, clockOut *time.Time, breakMinutes int, now time.Time) time.Duration {
	if clockIn == nil {
		return 0
	}
	end := now
	if clockOut != nil {
		end = *clockOut
	}
	if breakMinutes < 0 {
		breakMinutes = 0
	}
	d := end.Sub(*clockIn) - time.Duration(breakMinutes)*time.Minute
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Minute)
}

// WorkedMinutes is Worked expressed in whole minutes.
func WorkedMinutes(clockIn, clockOut *time.Time, breakMinutes int, now time.Time) int {
	return int(Worked(clockIn, clockOut, breakMinutes, now) / time.Minute)
}

// FormatHM renders d as "08h 00min".
func FormatHM(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%02dh %02dmin", h, m)
}

// FormatClock renders d as "8:00".
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%d:%02d", h, m)
}

// DurationOf is the display form of an entry's worked time.
func DurationOf(clockIn, clockOut *time.Time, breakMinutes int, now time.Time) string {
	if clockIn == nil {
		return ZeroDuration
	}
	return FormatHM(Worked(clockIn, clockOut, breakMinutes, now))
}

// EntryDuration measures e, preferring the minutes stored at clock-out.
func EntryDuration(e *Entry, now time.Time) time.Duration {
	if e == nil {
		return 0
	}
	if e.ClockOut != nil && e.WorkedMinutes != nil {
		return time.Duration(*e.WorkedMinutes) * time.Minute
	}
	return Worked(e.ClockIn, e.ClockOut, e.BreakMinutes, now)
}

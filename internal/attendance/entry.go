package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Status is the attendance classification stored on an entry.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// Date is a local calendar date formatted as YYYY-MM-DD.
type Date string

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, string(d), loc)
}

func (d Date) String() string { return string(d) }

// DateRange is an inclusive window of calendar dates.
type DateRange struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// MonthRange covers the first through the last day of the given month.
func MonthRange(year int, month time.Month) DateRange {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return DateRange{From: DateOf(first), To: DateOf(last)}
}

func (r DateRange) Validate() error {
	if _, err := ParseDate(string(r.From)); err != nil {
		return err
	}
	if _, err := ParseDate(string(r.To)); err != nil {
		return err
	}
	if r.From > r.To {
		return fmt.Errorf("date range starts after it ends: %s > %s", r.From, r.To)
	}
	return nil
}

func (r DateRange) Contains(d Date) bool {
	return d >= r.From && d <= r.To
}

// TimeOfDay is a wall-clock time without a date, used as a schedule's
// expected start.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS". Seconds are dropped.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, fmt.Errorf("invalid second in %q", s)
		}
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// On places the time of day on t's calendar day, in t's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Entry is one subject's attendance record for one calendar day.
type Entry struct {
	ID            uuid.UUID  `json:"id"`
	SubjectID     uuid.UUID  `json:"subject_id"`
	Date          Date       `json:"date"`
	ClockIn       *time.Time `json:"clock_in"`
	ClockOut      *time.Time `json:"clock_out"`
	BreakMinutes  int        `json:"break_minutes"`
	Status        Status     `json:"status"`
	WorkedMinutes *int       `json:"worked_minutes,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so cached entries can be handed out safely.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.ClockIn != nil {
		t := *e.ClockIn
		c.ClockIn = &t
	}
	if e.ClockOut != nil {
		t := *e.ClockOut
		c.ClockOut = &t
	}
	if e.WorkedMinutes != nil {
		m := *e.WorkedMinutes
		c.WorkedMinutes = &m
	}
	return &c
}

// Patch lists the fields an Update may set. Nil fields are left alone.
// Stores never overwrite a ClockIn or ClockOut that is already set.
type Patch struct {
	ClockIn       *time.Time
	ClockOut      *time.Time
	BreakMinutes  *int
	Status        *Status
	WorkedMinutes *int
	Notes         *string
}

// Schedule is a subject's reference schedule.
type Schedule struct {
	SubjectID     uuid.UUID `json:"subject_id"`
	ExpectedStart TimeOfDay `json:"expected_start"`
}

// Subject identifies a person together with the timezone that defines
// their "today".
type Subject struct {
	ID       uuid.UUID
	Location *time.Location
}

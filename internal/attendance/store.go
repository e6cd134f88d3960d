package attendance

import (
	"context"

	"github.com/google/uuid"
)

// Store persists attendance entries. Implementations enforce that at most
// one entry exists per (subject, date) and that ClockIn and ClockOut are
// each written once, with ClockOut never before ClockIn.
type Store interface {
	// FindOne returns nil, nil when the subject has no entry on date.
	FindOne(ctx context.Context, subjectID uuid.UUID, date Date) (*Entry, error)
	// FindMany lists entries newest date first. A nil range lists all.
	FindMany(ctx context.Context, subjectID uuid.UUID, r *DateRange) ([]*Entry, error)
	// FindDay returns the entries of several subjects on one date.
	FindDay(ctx context.Context, subjectIDs []uuid.UUID, date Date) ([]*Entry, error)
	// Insert fails with ErrDuplicateEntry if (subject, date) is taken.
	Insert(ctx context.Context, e *Entry) (*Entry, error)
	// Update fails with ErrStaleEntry if the patch would overwrite a set
	// ClockIn or ClockOut, set ClockOut without ClockIn, or put ClockOut
	// before ClockIn. ErrEntryNotFound if id is unknown.
	Update(ctx context.Context, id uuid.UUID, p Patch) (*Entry, error)
}

// ScheduleStore persists reference schedules.
type ScheduleStore interface {
	// FindSchedule returns nil, nil when the subject has no schedule.
	FindSchedule(ctx context.Context, subjectID uuid.UUID) (*Schedule, error)
	SaveSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, subjectID uuid.UUID) error
}

package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchConcurrency = 4

// Service carries the dependencies shared by every subject's session and
// runs the transitions that do not need a cached view (batch, admin edits).
type Service struct {
	store      Store
	schedules  ScheduleStore
	now        func() time.Time
	grace      time.Duration
	batchLimit int
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithGrace(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// NewService builds a Service. schedules may be nil, in which case nobody
// has a reference schedule and every arrival is present.
func NewService(store Store, schedules ScheduleStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		schedules:  schedules,
		now:        time.Now,
		grace:      DefaultGrace,
		batchLimit: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Grace() time.Duration { return s.grace }

// Now returns the service clock's current time in loc.
func (s *Service) Now(loc *time.Location) time.Time {
	return s.now().In(locOrUTC(loc))
}

// TodayFor is the subject's current calendar date.
func (s *Service) TodayFor(subj Subject) Date {
	return DateOf(s.Now(subj.Location))
}

// Today returns the subject's entry for the current date, or nil.
func (s *Service) Today(ctx context.Context, subj Subject) (*Entry, error) {
	e, err := s.store.FindOne(ctx, subj.ID, s.TodayFor(subj))
	if err != nil {
		return nil, wrapStore("find today's entry", err)
	}
	return e, nil
}

// History lists the subject's entries newest first, limited to r if set.
func (s *Service) History(ctx context.Context, subjectID uuid.UUID, r *DateRange) ([]*Entry, error) {
	if r != nil {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	entries, err := s.store.FindMany(ctx, subjectID, r)
	if err != nil {
		return nil, wrapStore("list entries", err)
	}
	return entries, nil
}

// Day returns the entries of several subjects on date.
func (s *Service) Day(ctx context.Context, subjectIDs []uuid.UUID, date Date) ([]*Entry, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	entries, err := s.store.FindDay(ctx, subjectIDs, date)
	if err != nil {
		return nil, wrapStore("list day entries", err)
	}
	return entries, nil
}

// ClockIn reads today's entry from the store and clocks the subject in.
func (s *Service) ClockIn(ctx context.Context, subj Subject) (*Entry, error) {
	current, err := s.Today(ctx, subj)
	if err != nil {
		return nil, err
	}
	return s.clockIn(ctx, subj, current)
}

// ClockOut clocks the subject out against the stored entry.
func (s *Service) ClockOut(ctx context.Context, subj Subject) (*Entry, error) {
	return s.clockOut(ctx, subj, nil)
}

// clockIn moves current (nil, a placeholder, or a stale view) to ClockedIn.
// The local check only short-circuits; the store decides.
func (s *Service) clockIn(ctx context.Context, subj Subject, current *Entry) (*Entry, error) {
	now := s.Now(subj.Location)
	today := DateOf(now)
	if current != nil && current.Date != today {
		current = nil
	}
	if current != nil && current.ClockIn != nil {
		return nil, ErrAlreadyClockedIn
	}

	ref, err := s.expectedStart(ctx, subj.ID)
	if err != nil {
		return nil, err
	}
	status := Classify(&now, ref, s.grace)

	if current == nil {
		created, err := s.store.Insert(ctx, &Entry{
			SubjectID: subj.ID,
			Date:      today,
			ClockIn:   &now,
			Status:    status,
		})
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateEntry) {
			return nil, wrapStore("insert entry", err)
		}
		// Someone else created today's row first. Fill it only if it is
		// still a placeholder.
		current, err = s.store.FindOne(ctx, subj.ID, today)
		if err != nil {
			return nil, wrapStore("find today's entry", err)
		}
		if current == nil || current.ClockIn != nil {
			return nil, ErrAlreadyClockedIn
		}
	}

	updated, err := s.store.Update(ctx, current.ID, Patch{ClockIn: &now, Status: &status})
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, ErrStaleEntry):
		return nil, ErrAlreadyClockedIn
	}
	return nil, wrapStore("fill placeholder", err)
}

// clockOut only trusts current for an existing clock-out, which is never
// undone. Everything else is read again: another front end may have clocked
// in, or an administrator may have changed the break allowance.
func (s *Service) clockOut(ctx context.Context, subj Subject, current *Entry) (*Entry, error) {
	now := s.Now(subj.Location)
	today := DateOf(now)
	if current != nil && current.Date == today && current.ClockOut != nil {
		return nil, ErrAlreadyClockedOut
	}

	current, err := s.store.FindOne(ctx, subj.ID, today)
	if err != nil {
		return nil, wrapStore("find today's entry", err)
	}
	if current == nil || current.ClockIn == nil {
		return nil, ErrNoClockInYet
	}
	if current.ClockOut != nil {
		return nil, ErrAlreadyClockedOut
	}

	out := now
	if out.Before(*current.ClockIn) {
		out = *current.ClockIn
	}
	worked := WorkedMinutes(current.ClockIn, &out, current.BreakMinutes, out)

	updated, err := s.store.Update(ctx, current.ID, Patch{ClockOut: &out, WorkedMinutes: &worked})
	switch {
	case err == nil:
		return s.settleWorked(ctx, updated)
	case errors.Is(err, ErrEntryNotFound):
		return nil, ErrNoClockInYet
	case errors.Is(err, ErrStaleEntry):
		fresh, ferr := s.store.FindOne(ctx, current.SubjectID, current.Date)
		if ferr != nil {
			return nil, wrapStore("find today's entry", ferr)
		}
		if fresh == nil || fresh.ClockIn == nil {
			return nil, ErrNoClockInYet
		}
		return nil, ErrAlreadyClockedOut
	}
	return nil, wrapStore("clock out", err)
}

// settleWorked rewrites the stored worked minutes of a closed entry when
// they no longer match its own break allowance, which happens when a break
// edit races a clock-out.
func (s *Service) settleWorked(ctx context.Context, e *Entry) (*Entry, error) {
	if e == nil || e.ClockIn == nil || e.ClockOut == nil {
		return e, nil
	}
	worked := WorkedMinutes(e.ClockIn, e.ClockOut, e.BreakMinutes, *e.ClockOut)
	if e.WorkedMinutes != nil && *e.WorkedMinutes == worked {
		return e, nil
	}
	updated, err := s.store.Update(ctx, e.ID, Patch{WorkedMinutes: &worked})
	if err != nil {
		return nil, wrapStore("settle worked minutes", err)
	}
	return updated, nil
}

func (s *Service) expectedStart(ctx context.Context, subjectID uuid.UUID) (*TimeOfDay, error) {
	sch, err := s.Schedule(ctx, subjectID)
	if err != nil || sch == nil {
		return nil, err
	}
	return &sch.ExpectedStart, nil
}

// Schedule returns the subject's reference schedule, or nil.
func (s *Service) Schedule(ctx context.Context, subjectID uuid.UUID) (*Schedule, error) {
	if s.schedules == nil {
		return nil, nil
	}
	sch, err := s.schedules.FindSchedule(ctx, subjectID)
	if err != nil {
		return nil, wrapStore("find schedule", err)
	}
	return sch, nil
}

func (s *Service) SetSchedule(ctx context.Context, subjectID uuid.UUID, start TimeOfDay) (*Schedule, error) {
	if s.schedules == nil {
		return nil, errors.New("schedules are not configured")
	}
	sch := &Schedule{SubjectID: subjectID, ExpectedStart: start}
	if err := s.schedules.SaveSchedule(ctx, sch); err != nil {
		return nil, wrapStore("save schedule", err)
	}
	return sch, nil
}

func (s *Service) ClearSchedule(ctx context.Context, subjectID uuid.UUID) error {
	if s.schedules == nil {
		return nil
	}
	if err := s.schedules.DeleteSchedule(ctx, subjectID); err != nil {
		return wrapStore("delete schedule", err)
	}
	return nil
}

// Annotate sets notes and/or the break allowance on the subject's entry for
// date, creating an absent placeholder when the day has no entry yet.
// Clock times are never touched.
func (s *Service) Annotate(ctx context.Context, subjectID uuid.UUID, date Date, notes *string, breakMinutes *int) (*Entry, error) {
	if _, err := ParseDate(string(date)); err != nil {
		return nil, err
	}
	if breakMinutes != nil && *breakMinutes < 0 {
		return nil, fmt.Errorf("break minutes must not be negative: %d", *breakMinutes)
	}

	current, err := s.store.FindOne(ctx, subjectID, date)
	if err != nil {
		return nil, wrapStore("find entry", err)
	}
	if current == nil {
		e := &Entry{SubjectID: subjectID, Date: date, Status: StatusAbsent}
		if notes != nil {
			e.Notes = *notes
		}
		if breakMinutes != nil {
			e.BreakMinutes = *breakMinutes
		}
		created, err := s.store.Insert(ctx, e)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateEntry) {
			return nil, wrapStore("insert placeholder", err)
		}
		if current, err = s.store.FindOne(ctx, subjectID, date); err != nil {
			return nil, wrapStore("find entry", err)
		}
		if current == nil {
			return nil, wrapStore("find entry", ErrEntryNotFound)
		}
	}

	p := Patch{Notes: notes, BreakMinutes: breakMinutes}
	if breakMinutes != nil && current.ClockIn != nil && current.ClockOut != nil {
		worked := WorkedMinutes(current.ClockIn, current.ClockOut, *breakMinutes, *current.ClockOut)
		p.WorkedMinutes = &worked
	}
	updated, err := s.store.Update(ctx, current.ID, p)
	if err != nil {
		return nil, wrapStore("annotate entry", err)
	}
	return s.settleWorked(ctx, updated)
}

// Outcome is the result of a batch transition for one subject.
type Outcome struct {
	SubjectID uuid.UUID
	Entry     *Entry
	Err       error
}

// BatchResult keeps one outcome per requested subject, in request order.
type BatchResult struct {
	Outcomes []Outcome
}

func (r BatchResult) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o)
		}
	}
	return out
}

func (r BatchResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// BatchClockIn clocks in every subject independently. A failure for one
// subject does not undo the others.
func (s *Service) BatchClockIn(ctx context.Context, subjects []Subject) BatchResult {
	return s.batch(ctx, subjects, s.ClockIn)
}

func (s *Service) BatchClockOut(ctx context.Context, subjects []Subject) BatchResult {
	return s.batch(ctx, subjects, s.ClockOut)
}

func (s *Service) batch(ctx context.Context, subjects []Subject, op func(context.Context, Subject) (*Entry, error)) BatchResult {
	outcomes := make([]Outcome, len(subjects))
	var g errgroup.Group
	g.SetLimit(s.batchLimit)
	for i, subj := range subjects {
		i, subj := i, subj
		g.Go(func() error {
			e, err := op(ctx, subj)
			outcomes[i] = Outcome{SubjectID: subj.ID, Entry: e, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return BatchResult{Outcomes: outcomes}
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

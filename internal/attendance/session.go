package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// State is where a subject's day stands.
type State int

const (
	NoEntryToday State = iota
	ClockedIn
	ClockedOut
)

func (s State) String() string {
	switch s {
	case ClockedIn:
		return "clocked_in"
	case ClockedOut:
		return "clocked_out"
	}
	return "no_entry_today"
}

// StateOf reports the day state an entry represents.
func StateOf(e *Entry) State {
	switch {
	case e == nil || e.ClockIn == nil:
		return NoEntryToday
	case e.ClockOut == nil:
		return ClockedIn
	}
	return ClockedOut
}

// Session is one subject's view of today's entry and, optionally, a window
// of history. Operations are serialized; a second ClockIn issued while the
// first is in flight sees the first one's result.
type Session struct {
	svc     *Service
	subject Subject

	mu      sync.Mutex
	loaded  bool
	today   *Entry
	window  *DateRange
	history []*Entry
}

// Session binds a session to subj. The subject is fixed for its lifetime.
func (s *Service) Session(subj Subject) *Session {
	subj.Location = locOrUTC(subj.Location)
	return &Session{svc: s, subject: subj}
}

func (s *Session) Subject() Subject { return s.subject }

// Load fetches today's entry and the history window. On error the cached
// view is left as it was.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Session) loadLocked(ctx context.Context) error {
	today, err := s.svc.Today(ctx, s.subject)
	if err != nil {
		return err
	}
	var history []*Entry
	if s.window != nil {
		if history, err = s.svc.History(ctx, s.subject.ID, s.window); err != nil {
			return err
		}
	}
	s.today = today
	s.history = history
	s.loaded = true
	return nil
}

// SetHistoryWindow changes the history filter and refetches history. A nil
// window clears it.
func (s *Session) SetHistoryWindow(ctx context.Context, r *DateRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		s.window = nil
		s.history = nil
		return nil
	}
	history, err := s.svc.History(ctx, s.subject.ID, r)
	if err != nil {
		return err
	}
	w := *r
	s.window = &w
	s.history = history
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateOf(s.currentLocked())
}

// Today returns a copy of the cached entry for the current date.
func (s *Session) Today() *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked().Clone()
}

func (s *Session) History() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.history))
	for i, e := range s.history {
		out[i] = e.Clone()
	}
	return out
}

// Worked is today's worked time so far.
func (s *Session) Worked() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EntryDuration(s.currentLocked(), s.svc.Now(s.subject.Location))
}

// currentLocked drops the cached entry once the calendar day has rolled over.
func (s *Session) currentLocked() *Entry {
	if s.today != nil && s.today.Date != s.svc.TodayFor(s.subject) {
		return nil
	}
	return s.today
}

func (s *Session) ClockIn(ctx context.Context) (*Entry, error) {
	return s.transition(ctx, s.svc.clockIn)
}

func (s *Session) ClockOut(ctx context.Context) (*Entry, error) {
	return s.transition(ctx, s.svc.clockOut)
}

func (s *Session) transition(ctx context.Context, op func(context.Context, Subject, *Entry) (*Entry, error)) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		if err := s.loadLocked(ctx); err != nil {
			return nil, err
		}
	}
	e, err := op(ctx, s.subject, s.currentLocked())
	if err != nil {
		return nil, err
	}
	if err := s.loadLocked(ctx); err != nil {
		s.mergeLocked(e)
	}
	return e.Clone(), nil
}

// mergeLocked folds a freshly written entry into the cache when a refetch
// is not possible.
func (s *Session) mergeLocked(e *Entry) {
	s.today = e.Clone()
	if s.window == nil || !s.window.Contains(e.Date) {
		return
	}
	for i, h := range s.history {
		if h.ID == e.ID {
			s.history[i] = e.Clone()
			return
		}
	}
	s.history = append(s.history, e.Clone())
	sort.Slice(s.history, func(i, j int) bool { return s.history[i].Date > s.history[j].Date })
}

package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entryKey struct {
	subject uuid.UUID
	date    Date
}

// memStore is an in-memory Store with the same guarantees as the SQL stores.
type memStore struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*Entry
	byDay     map[entryKey]uuid.UUID
	schedules map[uuid.UUID]*Schedule

	// failNext makes the next call fail with a backend error.
	failNext error
	inserts  int
}

func newMemStore() *memStore {
	return &memStore{
		byID:      map[uuid.UUID]*Entry{},
		byDay:     map[entryKey]uuid.UUID{},
		schedules: map[uuid.UUID]*Schedule{},
	}
}

func (m *memStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) FindOne(_ context.Context, subjectID uuid.UUID, date Date) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	id, ok := m.byDay[entryKey{subjectID, date}]
	if !ok {
		return nil, nil
	}
	return m.byID[id].Clone(), nil
}

func (m *memStore) FindMany(_ context.Context, subjectID uuid.UUID, r *DateRange) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range m.byID {
		if e.SubjectID != subjectID {
			continue
		}
		if r != nil && !r.Contains(e.Date) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (m *memStore) FindDay(_ context.Context, subjectIDs []uuid.UUID, date Date) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, sid := range subjectIDs {
		if id, ok := m.byDay[entryKey{sid, date}]; ok {
			out = append(out, m.byID[id].Clone())
		}
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, e *Entry) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k := entryKey{e.SubjectID, e.Date}
	if _, ok := m.byDay[k]; ok {
		return nil, ErrDuplicateEntry
	}
	c := e.Clone()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.byID[c.ID] = c
	m.byDay[k] = c.ID
	m.inserts++
	return c.Clone(), nil
}

func (m *memStore) Update(_ context.Context, id uuid.UUID, p Patch) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if p.ClockIn != nil && e.ClockIn != nil {
		return nil, ErrStaleEntry
	}
	if p.ClockOut != nil {
		in := e.ClockIn
		if p.ClockIn != nil {
			in = p.ClockIn
		}
		if in == nil || e.ClockOut != nil || p.ClockOut.Before(*in) {
			return nil, ErrStaleEntry
		}
	}
	if p.ClockIn != nil {
		t := *p.ClockIn
		e.ClockIn = &t
	}
	if p.ClockOut != nil {
		t := *p.ClockOut
		e.ClockOut = &t
	}
	if p.BreakMinutes != nil {
		e.BreakMinutes = *p.BreakMinutes
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.WorkedMinutes != nil {
		w := *p.WorkedMinutes
		e.WorkedMinutes = &w
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	e.UpdatedAt = time.Now()
	return e.Clone(), nil
}

func (m *memStore) FindSchedule(_ context.Context, subjectID uuid.UUID) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[subjectID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *memStore) SaveSchedule(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.schedules[s.SubjectID] = &c
	return nil
}

func (m *memStore) DeleteSchedule(_ context.Context, subjectID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, subjectID)
	return nil
}

var errBackend = errors.New("connection refused")

// fakeClock is a settable clock for tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"timeclock/internal/attendance"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ts(hour, min int) *time.Time {
	t := time.Date(2024, time.March, 4, hour, min, 0, 0, time.UTC)
	return &t
}

func TestInsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	subject := uuid.New()

	created, err := s.Insert(ctx, &attendance.Entry{
		SubjectID: subject,
		Date:      "2024-03-04",
		ClockIn:   ts(9, 0),
		Status:    attendance.StatusPresent,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	got, err := s.FindOne(ctx, subject, "2024-03-04")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, got.ClockIn.Equal(*ts(9, 0)))
	assert.Nil(t, got.ClockOut)
	assert.Equal(t, attendance.StatusPresent, got.Status)

	none, err := s.FindOne(ctx, subject, "2024-03-05")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInsertDuplicateDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := &attendance.Entry{SubjectID: uuid.New(), Date: "2024-03-04", ClockIn: ts(9, 0), Status: attendance.StatusPresent}

	_, err := s.Insert(ctx, e)
	require.NoError(t, err)
	_, err = s.Insert(ctx, e)
	assert.ErrorIs(t, err, attendance.ErrDuplicateEntry)

	// Another subject on the same day is fine.
	_, err = s.Insert(ctx, &attendance.Entry{SubjectID: uuid.New(), Date: "2024-03-04", Status: attendance.StatusAbsent})
	assert.NoError(t, err)
}

func TestUpdatePreconditions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	placeholder, err := s.Insert(ctx, &attendance.Entry{SubjectID: uuid.New(), Date: "2024-03-04", Status: attendance.StatusAbsent})
	require.NoError(t, err)

	_, err = s.Update(ctx, placeholder.ID, attendance.Patch{ClockOut: ts(17, 0)})
	assert.ErrorIs(t, err, attendance.ErrStaleEntry, "clock-out without clock-in")

	present := attendance.StatusPresent
	in, err := s.Update(ctx, placeholder.ID, attendance.Patch{ClockIn: ts(9, 0), Status: &present})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, in.Status)

	_, err = s.Update(ctx, placeholder.ID, attendance.Patch{ClockIn: ts(10, 0)})
	assert.ErrorIs(t, err, attendance.ErrStaleEntry, "second clock-in")

	_, err = s.Update(ctx, placeholder.ID, attendance.Patch{ClockOut: ts(8, 0)})
	assert.ErrorIs(t, err, attendance.ErrStaleEntry, "clock-out before clock-in")

	worked := 480
	out, err := s.Update(ctx, placeholder.ID, attendance.Patch{ClockOut: ts(17, 0), WorkedMinutes: &worked})
	require.NoError(t, err)
	assert.True(t, out.ClockOut.Equal(*ts(17, 0)))
	assert.Equal(t, 480, *out.WorkedMinutes)

	_, err = s.Update(ctx, placeholder.ID, attendance.Patch{ClockOut: ts(18, 0)})
	assert.ErrorIs(t, err, attendance.ErrStaleEntry, "second clock-out")

	notes := "left early for dentist"
	annotated, err := s.Update(ctx, placeholder.ID, attendance.Patch{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, annotated.Notes)
	assert.True(t, annotated.ClockOut.Equal(*ts(17, 0)))

	_, err = s.Update(ctx, uuid.New(), attendance.Patch{Notes: &notes})
	assert.ErrorIs(t, err, attendance.ErrEntryNotFound)
}

func TestFindManyRangeAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	subject := uuid.New()
	for _, d := range []attendance.Date{"2024-02-28", "2024-03-01", "2024-02-29", "2024-01-31"} {
		_, err := s.Insert(ctx, &attendance.Entry{SubjectID: subject, Date: d, Status: attendance.StatusAbsent})
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, &attendance.Entry{SubjectID: uuid.New(), Date: "2024-02-28", Status: attendance.StatusAbsent})
	require.NoError(t, err)

	feb := attendance.MonthRange(2024, time.February)
	entries, err := s.FindMany(ctx, subject, &feb)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, attendance.Date("2024-02-29"), entries[0].Date)
	assert.Equal(t, attendance.Date("2024-02-28"), entries[1].Date)

	all, err := s.FindMany(ctx, subject, nil)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, attendance.Date("2024-03-01"), all[0].Date)
}

func TestFindDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{a, b, c} {
		_, err := s.Insert(ctx, &attendance.Entry{SubjectID: id, Date: "2024-03-04", ClockIn: ts(9, 0), Status: attendance.StatusPresent})
		require.NoError(t, err)
	}

	entries, err := s.FindDay(ctx, []uuid.UUID{a, c}, "2024-03-04")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = s.FindDay(ctx, nil, "2024-03-04")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSchedules(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	subject := uuid.New()

	sch, err := s.FindSchedule(ctx, subject)
	require.NoError(t, err)
	assert.Nil(t, sch)

	require.NoError(t, s.SaveSchedule(ctx, &attendance.Schedule{SubjectID: subject, ExpectedStart: attendance.TimeOfDay{Hour: 8, Minute: 30}}))
	require.NoError(t, s.SaveSchedule(ctx, &attendance.Schedule{SubjectID: subject, ExpectedStart: attendance.TimeOfDay{Hour: 9}}))
	sch, err = s.FindSchedule(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, "09:00", sch.ExpectedStart.String())

	require.NoError(t, s.DeleteSchedule(ctx, subject))
	sch, err = s.FindSchedule(ctx, subject)
	require.NoError(t, err)
	assert.Nil(t, sch)
}

func TestEmployees(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice, err := s.GetOrCreateEmployee(ctx, "1001", "alice", "Europe/Paris")
	require.NoError(t, err)
	again, err := s.GetOrCreateEmployee(ctx, "1001", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, again.ID)
	assert.Equal(t, "Europe/Paris", again.Timezone)

	bob, err := s.CreateEmployee(ctx, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, "UTC", bob.Timezone)
	assert.Empty(t, bob.DiscordID)

	require.NoError(t, s.UpdateEmployeeTimezone(ctx, bob.ID, "Asia/Tokyo"))
	got, err := s.GetEmployeeByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", got.Timezone)

	missing, err := s.GetEmployeeByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.AddGuildMember(ctx, "guild-1", alice.ID))
	require.NoError(t, s.AddGuildMember(ctx, "guild-1", alice.ID))
	members, err := s.GetGuildEmployees(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Username)

	both, err := s.GetEmployeesByIDs(ctx, []uuid.UUID{bob.ID, alice.ID})
	require.NoError(t, err)
	require.Len(t, both, 2)
	assert.Equal(t, "alice", both[0].Username)

	all, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConcurrentClockInThroughService(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	svc := attendance.NewService(s, s, attendance.WithClock(func() time.Time { return now }))
	subject := attendance.Subject{ID: uuid.New()}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ClockIn(ctx, subject)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, attendance.ErrAlreadyClockedIn)
		}
	}
	assert.Equal(t, 1, ok)

	entries, err := s.FindMany(ctx, subject.ID, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

package db

import (
	"context"
	"os"
	"testing"
	"time"

	"timeclock/internal/attendance"
	"timeclock/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a scratch PostgreSQL database. Point
// TIMECLOCK_TEST_DATABASE_URL at one to run them.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TIMECLOCK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TIMECLOCK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := New(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate(ctx))
	return d
}

func TestEntryLifecycle(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	emp, err := d.CreateEmployee(ctx, "pg-"+uuid.NewString()[:8], "")
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Exec(context.Background(), `DELETE FROM employees WHERE id = $1`, emp.ID.String())
	})

	in := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	created, err := d.Insert(ctx, &attendance.Entry{
		SubjectID: emp.ID,
		Date:      "2024-03-04",
		ClockIn:   &in,
		Status:    attendance.StatusPresent,
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.Date("2024-03-04"), created.Date)

	_, err = d.Insert(ctx, &attendance.Entry{SubjectID: emp.ID, Date: "2024-03-04", Status: attendance.StatusAbsent})
	assert.ErrorIs(t, err, attendance.ErrDuplicateEntry)

	out := in.Add(8 * time.Hour)
	worked := 480
	updated, err := d.Update(ctx, created.ID, attendance.Patch{ClockOut: &out, WorkedMinutes: &worked})
	require.NoError(t, err)
	assert.True(t, updated.ClockOut.Equal(out))

	_, err = d.Update(ctx, created.ID, attendance.Patch{ClockOut: &out})
	assert.ErrorIs(t, err, attendance.ErrStaleEntry)

	_, err = d.Update(ctx, uuid.New(), attendance.Patch{ClockOut: &out})
	assert.ErrorIs(t, err, attendance.ErrEntryNotFound)

	day, err := d.FindDay(ctx, []uuid.UUID{emp.ID}, "2024-03-04")
	require.NoError(t, err)
	assert.Len(t, day, 1)

	march := attendance.MonthRange(2024, time.March)
	history, err := d.FindMany(ctx, emp.ID, &march)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestScheduleRoundTrip(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	emp, err := d.CreateEmployee(ctx, "pg-"+uuid.NewString()[:8], "Europe/Paris")
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Exec(context.Background(), `DELETE FROM employees WHERE id = $1`, emp.ID.String())
	})

	require.NoError(t, d.SaveSchedule(ctx, &attendance.Schedule{SubjectID: emp.ID, ExpectedStart: attendance.TimeOfDay{Hour: 8, Minute: 45}}))
	sch, err := d.FindSchedule(ctx, emp.ID)
	require.NoError(t, err)
	require.NotNil(t, sch)
	assert.Equal(t, "08:45", sch.ExpectedStart.String())

	require.NoError(t, d.DeleteSchedule(ctx, emp.ID))
	sch, err = d.FindSchedule(ctx, emp.ID)
	require.NoError(t, err)
	assert.Nil(t, sch)
}

// Package sqlite is a single-file backend for local installs and tests. It
// provides the same attendance guarantees as the PostgreSQL store: a unique
// (subject_id, work_date) index and conditional clock updates.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"timeclock/internal/attendance"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Timestamps are stored as fixed-width UTC text so they compare correctly
// as strings.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

// New opens the database at path. Use ":memory:" for a throwaway store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		discord_id TEXT UNIQUE,
		username TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS guild_members (
		guild_id TEXT NOT NULL,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		PRIMARY KEY (guild_id, employee_id)
	);

	CREATE TABLE IF NOT EXISTS attendance_entries (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		clock_in TEXT,
		clock_out TEXT,
		break_minutes INTEGER NOT NULL DEFAULT 0 CHECK (break_minutes >= 0),
		status TEXT NOT NULL DEFAULT 'absent',
		worked_minutes INTEGER,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (clock_out IS NULL OR (clock_in IS NOT NULL AND clock_out >= clock_in))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_subject_date
		ON attendance_entries(subject_id, work_date);

	CREATE TABLE IF NOT EXISTS schedules (
		subject_id TEXT PRIMARY KEY,
		expected_start TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func formatTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(tsLayout)
}

func parseTS(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(tsLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", v.String, err)
	}
	return &t, nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

const entryColumns = `id, subject_id, work_date, clock_in, clock_out, break_minutes, status, worked_minutes, notes, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*attendance.Entry, error) {
	var (
		e                  attendance.Entry
		id, subject        string
		date, status       string
		clockIn, clockOut  sql.NullString
		worked             sql.NullInt64
		createdAt, updated string
	)
	if err := row.Scan(&id, &subject, &date, &clockIn, &clockOut, &e.BreakMinutes, &status, &worked, &e.Notes, &createdAt, &updated); err != nil {
		return nil, err
	}

	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if e.SubjectID, err = uuid.Parse(subject); err != nil {
		return nil, err
	}
	if e.ClockIn, err = parseTS(clockIn); err != nil {
		return nil, err
	}
	if e.ClockOut, err = parseTS(clockOut); err != nil {
		return nil, err
	}
	if worked.Valid {
		w := int(worked.Int64)
		e.WorkedMinutes = &w
	}
	c, err := parseTS(sql.NullString{String: createdAt, Valid: true})
	if err != nil {
		return nil, err
	}
	u, err := parseTS(sql.NullString{String: updated, Valid: true})
	if err != nil {
		return nil, err
	}
	e.CreatedAt, e.UpdatedAt = *c, *u
	e.Date = attendance.Date(date)
	e.Status = attendance.Status(status)
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]*attendance.Entry, error) {
	defer rows.Close()
	var out []*attendance.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) FindOne(ctx context.Context, subjectID uuid.UUID, date attendance.Date) (*attendance.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM attendance_entries WHERE subject_id = ? AND work_date = ?`,
		subjectID.String(), string(date))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *Store) FindMany(ctx context.Context, subjectID uuid.UUID, r *attendance.DateRange) ([]*attendance.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM attendance_entries WHERE subject_id = ?`
	args := []any{subjectID.String()}
	if r != nil {
		query += ` AND work_date >= ? AND work_date <= ?`
		args = append(args, string(r.From), string(r.To))
	}
	query += ` ORDER BY work_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (s *Store) FindDay(ctx context.Context, subjectIDs []uuid.UUID, date attendance.Date) ([]*attendance.Entry, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM attendance_entries WHERE work_date = ? AND subject_id IN (?` +
		strings.Repeat(",?", len(subjectIDs)-1) + `) ORDER BY clock_in IS NULL, clock_in`
	args := make([]any, 0, len(subjectIDs)+1)
	args = append(args, string(date))
	for _, id := range subjectIDs {
		args = append(args, id.String())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (s *Store) Insert(ctx context.Context, e *attendance.Entry) (*attendance.Entry, error) {
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attendance_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+entryColumns,
		id.String(),
		e.SubjectID.String(),
		string(e.Date),
		formatTS(e.ClockIn),
		formatTS(e.ClockOut),
		e.BreakMinutes,
		string(e.Status),
		nullInt(e.WorkedMinutes),
		e.Notes,
		formatTS(&now),
		formatTS(&now),
	)
	created, err := scanEntry(row)
	if err != nil {
		return nil, translate(err)
	}
	return created, nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, p attendance.Patch) (*attendance.Entry, error) {
	var status any
	if p.Status != nil {
		status = string(*p.Status)
	}
	now := time.Now()
	in, out := formatTS(p.ClockIn), formatTS(p.ClockOut)

	row := s.db.QueryRowContext(ctx, `
		UPDATE attendance_entries SET
			clock_in       = COALESCE(?1, clock_in),
			clock_out      = COALESCE(?2, clock_out),
			break_minutes  = COALESCE(?3, break_minutes),
			status         = COALESCE(?4, status),
			worked_minutes = COALESCE(?5, worked_minutes),
			notes          = COALESCE(?6, notes),
			updated_at     = ?7
		WHERE id = ?8
		AND (?1 IS NULL OR clock_in IS NULL)
		AND (?2 IS NULL OR (
			clock_out IS NULL
			AND COALESCE(?1, clock_in) IS NOT NULL
			AND ?2 >= COALESCE(?1, clock_in)
		))
		RETURNING `+entryColumns,
		in, out, nullInt(p.BreakMinutes), status, nullInt(p.WorkedMinutes), nullString(p.Notes),
		formatTS(&now), id.String(),
	)
	updated, err := scanEntry(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, translate(err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM attendance_entries WHERE id = ?)`, id.String()).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, attendance.ErrEntryNotFound
	}
	return nil, attendance.ErrStaleEntry
}

func (s *Store) FindSchedule(ctx context.Context, subjectID uuid.UUID) (*attendance.Schedule, error) {
	var start string
	err := s.db.QueryRowContext(ctx, `SELECT expected_start FROM schedules WHERE subject_id = ?`, subjectID.String()).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tod, err := attendance.ParseTimeOfDay(start)
	if err != nil {
		return nil, err
	}
	return &attendance.Schedule{SubjectID: subjectID, ExpectedStart: tod}, nil
}

func (s *Store) SaveSchedule(ctx context.Context, sch *attendance.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (subject_id, expected_start) VALUES (?, ?)
		ON CONFLICT (subject_id) DO UPDATE SET expected_start = excluded.expected_start`,
		sch.SubjectID.String(), sch.ExpectedStart.String())
	return err
}

func (s *Store) DeleteSchedule(ctx context.Context, subjectID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE subject_id = ?`, subjectID.String())
	return err
}

func translate(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return attendance.ErrDuplicateEntry
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %v", attendance.ErrStaleEntry, se)
		}
	}
	return err
}

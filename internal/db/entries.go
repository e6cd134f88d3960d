package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timeclock/internal/attendance"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

const entryColumns = `
	id, subject_id, work_date::text, clock_in, clock_out,
	break_minutes, status, worked_minutes, notes, created_at, updated_at`

func scanEntry(row pgx.Row) (*attendance.Entry, error) {
	var (
		e      attendance.Entry
		date   string
		status string
	)
	err := row.Scan(
		&e.ID,
		&e.SubjectID,
		&date,
		&e.ClockIn,
		&e.ClockOut,
		&e.BreakMinutes,
		&status,
		&e.WorkedMinutes,
		&e.Notes,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Date = attendance.Date(date)
	e.Status = attendance.Status(status)
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*attendance.Entry, error) {
	defer rows.Close()
	var entries []*attendance.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindOne gets the subject's entry for a date if one exists
func (db *DB) FindOne(ctx context.Context, subjectID uuid.UUID, date attendance.Date) (*attendance.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM attendance_entries
		WHERE subject_id = $1 AND work_date = $2::date`

	e, err := scanEntry(db.QueryRow(ctx, query, subjectID.String(), string(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindMany lists a subject's entries, newest first
func (db *DB) FindMany(ctx context.Context, subjectID uuid.UUID, r *attendance.DateRange) ([]*attendance.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM attendance_entries
		WHERE subject_id = $1`
	args := []any{subjectID.String()}
	if r != nil {
		query += ` AND work_date >= $2::date AND work_date <= $3::date`
		args = append(args, string(r.From), string(r.To))
	}
	query += ` ORDER BY work_date DESC`

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// FindDay gets the entries of a roster for one date
func (db *DB) FindDay(ctx context.Context, subjectIDs []uuid.UUID, date attendance.Date) ([]*attendance.Entry, error) {
	ids := make(pq.StringArray, len(subjectIDs))
	for i, id := range subjectIDs {
		ids[i] = id.String()
	}

	query := `
		SELECT ` + entryColumns + `
		FROM attendance_entries
		WHERE subject_id = ANY($1::uuid[]) AND work_date = $2::date
		ORDER BY clock_in NULLS LAST`

	rows, err := db.Query(ctx, query, ids, string(date))
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// Insert creates an entry; the (subject_id, work_date) unique constraint
// rejects a second row for the same day
func (db *DB) Insert(ctx context.Context, e *attendance.Entry) (*attendance.Entry, error) {
	query := `
		INSERT INTO attendance_entries
			(id, subject_id, work_date, clock_in, clock_out, break_minutes, status, worked_minutes, notes, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING ` + entryColumns

	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	created, err := scanEntry(db.QueryRow(ctx, query,
		id.String(),
		e.SubjectID.String(),
		string(e.Date),
		e.ClockIn,
		e.ClockOut,
		e.BreakMinutes,
		string(e.Status),
		e.WorkedMinutes,
		e.Notes,
		time.Now(),
	))
	if err != nil {
		return nil, translate(err)
	}
	return created, nil
}

// Update applies a patch only while its clock preconditions hold, so two
// racing clock-outs cannot both succeed
func (db *DB) Update(ctx context.Context, id uuid.UUID, p attendance.Patch) (*attendance.Entry, error) {
	var status *string
	if p.Status != nil {
		s := string(*p.Status)
		status = &s
	}

	query := `
		UPDATE attendance_entries SET
			clock_in       = COALESCE($2::timestamptz, clock_in),
			clock_out      = COALESCE($3::timestamptz, clock_out),
			break_minutes  = COALESCE($4::integer, break_minutes),
			status         = COALESCE($5::text, status),
			worked_minutes = COALESCE($6::integer, worked_minutes),
			notes          = COALESCE($7::text, notes),
			updated_at     = now()
		WHERE id = $1
		AND ($2::timestamptz IS NULL OR clock_in IS NULL)
		AND ($3::timestamptz IS NULL OR (
			clock_out IS NULL
			AND COALESCE($2::timestamptz, clock_in) IS NOT NULL
			AND $3::timestamptz >= COALESCE($2::timestamptz, clock_in)
		))
		RETURNING ` + entryColumns

	updated, err := scanEntry(db.QueryRow(ctx, query,
		id.String(),
		p.ClockIn,
		p.ClockOut,
		p.BreakMinutes,
		status,
		p.WorkedMinutes,
		p.Notes,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, translate(err)
	}

	// Nothing matched: either the row is gone or a precondition failed
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attendance_entries WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, attendance.ErrEntryNotFound
	}
	return nil, attendance.ErrStaleEntry
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return attendance.ErrDuplicateEntry
		case pgCheckViolation:
			return fmt.Errorf("%w: %s", attendance.ErrStaleEntry, pgErr.ConstraintName)
		}
	}
	return err
}

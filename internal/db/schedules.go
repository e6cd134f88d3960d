package db

import (
	"context"
	"errors"

	"timeclock/internal/attendance"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (db *DB) FindSchedule(ctx context.Context, subjectID uuid.UUID) (*attendance.Schedule, error) {
	query := `
		SELECT expected_start::text
		FROM schedules
		WHERE subject_id = $1`

	var start string
	err := db.QueryRow(ctx, query, subjectID.String()).Scan(&start)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (db *DB) SaveSchedule(ctx context.Context, s *attendance.Schedule) error {
	query := `
		INSERT INTO schedules (subject_id, expected_start, updated_at)
		VALUES ($1, $2::time, now())
		ON CONFLICT (subject_id) DO UPDATE
		SET expected_start = EXCLUDED.expected_start, updated_at = now()`

	_, err := db.Exec(ctx, query, s.SubjectID.String(), s.ExpectedStart.String())
	return err
}

func (db *DB) DeleteSchedule(ctx context.Context, subjectID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM schedules WHERE subject_id = $1`, subjectID.String())
	return err
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"timeclock/internal/db/models"

	"github.com/google/uuid"
)

const employeeColumns = `id, discord_id, username, timezone, created_at`

func scanEmployee(row scanner) (*models.Employee, error) {
	var (
		id, createdAt string
		discordID     sql.NullString
		e             models.Employee
	)
	if err := row.Scan(&id, &discordID, &e.Username, &e.Timezone, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	e.DiscordID = discordID.String
	created, err := parseTS(sql.NullString{String: createdAt, Valid: true})
	if err != nil {
		return nil, err
	}
	e.CreatedAt = *created
	return &e, nil
}

func collectEmployees(rows *sql.Rows) ([]*models.Employee, error) {
	defer rows.Close()
	var out []*models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetOrCreateEmployee(ctx context.Context, discordID, username, timezone string) (*models.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE discord_id = ?`, discordID))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("error getting employee: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	now := time.Now()
	e, err = scanEmployee(s.db.QueryRowContext(ctx, `
		INSERT INTO employees (id, discord_id, username, timezone, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (discord_id) DO UPDATE SET username = excluded.username
		RETURNING `+employeeColumns,
		uuid.New().String(), discordID, username, timezone, formatTS(&now)))
	if err != nil {
		return nil, fmt.Errorf("error creating employee: %w", err)
	}
	return e, nil
}

// CreateEmployee adds an employee without a Discord identity.
func (s *Store) CreateEmployee(ctx context.Context, username, timezone string) (*models.Employee, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	now := time.Now()
	return scanEmployee(s.db.QueryRowContext(ctx, `
		INSERT INTO employees (id, discord_id, username, timezone, created_at)
		VALUES (?, NULL, ?, ?, ?)
		RETURNING `+employeeColumns,
		uuid.New().String(), username, timezone, formatTS(&now)))
}

func (s *Store) GetEmployeeByID(ctx context.Context, id uuid.UUID) (*models.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *Store) GetEmployeesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Employee, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`) ORDER BY username`,
		args...)
	if err != nil {
		return nil, err
	}
	return collectEmployees(rows)
}

func (s *Store) ListEmployees(ctx context.Context) ([]*models.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY username`)
	if err != nil {
		return nil, err
	}
	return collectEmployees(rows)
}

func (s *Store) UpdateEmployeeTimezone(ctx context.Context, id uuid.UUID, timezone string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE employees SET timezone = ? WHERE id = ?`, timezone, id.String())
	return err
}

func (s *Store) AddGuildMember(ctx context.Context, guildID string, employeeID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_members (guild_id, employee_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		guildID, employeeID.String())
	return err
}

func (s *Store) GetGuildEmployees(ctx context.Context, guildID string) ([]*models.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.discord_id, e.username, e.timezone, e.created_at
		FROM employees e
		JOIN guild_members g ON g.employee_id = e.id
		WHERE g.guild_id = ?
		ORDER BY e.username`, guildID)
	if err != nil {
		return nil, err
	}
	return collectEmployees(rows)
}

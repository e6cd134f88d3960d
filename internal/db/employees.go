package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timeclock/internal/db/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

const employeeColumns = `id, discord_id, username, timezone, created_at`

func scanEmployee(row pgx.Row) (*models.Employee, error) {
	e := &models.Employee{}
	var discordID *string
	if err := row.Scan(&e.ID, &discordID, &e.Username, &e.Timezone, &e.CreatedAt); err != nil {
		return nil, err
	}
	if discordID != nil {
		e.DiscordID = *discordID
	}
	return e, nil
}

func collectEmployees(rows pgx.Rows) ([]*models.Employee, error) {
	defer rows.Close()
	var employees []*models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// GetOrCreateEmployee retrieves an employee by Discord ID or creates a new one
func (db *DB) GetOrCreateEmployee(ctx context.Context, discordID, username, timezone string) (*models.Employee, error) {
	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE discord_id = $1`

	employee, err := scanEmployee(db.QueryRow(ctx, query, discordID))
	if err == nil {
		return employee, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("error getting employee: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	employee = &models.Employee{
		ID:        uuid.New(),
		DiscordID: discordID,
		Username:  username,
		Timezone:  timezone,
		CreatedAt: time.Now(),
	}

	// A concurrent first command from the same user may win the insert
	insertQuery := `
		INSERT INTO employees (id, discord_id, username, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (discord_id) DO UPDATE SET username = EXCLUDED.username
		RETURNING ` + employeeColumns

	employee, err = scanEmployee(db.QueryRow(ctx, insertQuery,
		employee.ID.String(),
		employee.DiscordID,
		employee.Username,
		employee.Timezone,
		employee.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("error creating employee: %w", err)
	}
	return employee, nil
}

// CreateEmployee adds an employee that has no Discord account
func (db *DB) CreateEmployee(ctx context.Context, username, timezone string) (*models.Employee, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	query := `
		INSERT INTO employees (id, discord_id, username, timezone, created_at)
		VALUES ($1, NULL, $2, $3, $4)
		RETURNING ` + employeeColumns

	return scanEmployee(db.QueryRow(ctx, query, uuid.New().String(), username, timezone, time.Now()))
}

// GetEmployeeByID returns nil, nil for an unknown id
func (db *DB) GetEmployeeByID(ctx context.Context, id uuid.UUID) (*models.Employee, error) {
	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE id = $1`

	employee, err := scanEmployee(db.QueryRow(ctx, query, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return employee, err
}

func (db *DB) GetEmployeesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Employee, error) {
	arr := make(pq.StringArray, len(ids))
	for i, id := range ids {
		arr[i] = id.String()
	}
	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE id = ANY($1::uuid[])
		ORDER BY username`

	rows, err := db.Query(ctx, query, arr)
	if err != nil {
		return nil, err
	}
	return collectEmployees(rows)
}

// ListEmployees returns every employee, ordered by name
func (db *DB) ListEmployees(ctx context.Context) ([]*models.Employee, error) {
	rows, err := db.Query(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY username`)
	if err != nil {
		return nil, err
	}
	return collectEmployees(rows)
}

// UpdateEmployeeTimezone updates an employee's timezone
func (db *DB) UpdateEmployeeTimezone(ctx context.Context, id uuid.UUID, timezone string) error {
	query := `
		UPDATE employees
		SET timezone = $1
		WHERE id = $2`

	_, err := db.Exec(ctx, query, timezone, id.String())
	return err
}

// AddGuildMember records that an employee uses the bot in a guild
func (db *DB) AddGuildMember(ctx context.Context, guildID string, employeeID uuid.UUID) error {
	query := `
		INSERT INTO guild_members (guild_id, employee_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	_, err := db.Exec(ctx, query, guildID, employeeID.String())
	return err
}

// GetGuildEmployees lists the employees known in a guild
func (db *DB) GetGuildEmployees(ctx context.Context, guildID string) ([]*models.Employee, error) {
	query := `
		SELECT e.id, e.discord_id, e.username, e.timezone, e.created_at
		FROM employees e
		JOIN guild_members g ON g.employee_id = e.id
		WHERE g.guild_id = $1
		ORDER BY e.username`

	rows, err := db.Query(ctx, query, guildID)
	if err != nil {
		return nil, err
	}
	return collectEmployees(rows)
}

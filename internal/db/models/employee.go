package models

import (
	"time"

	"github.com/google/uuid"
)

type Employee struct {
	ID        uuid.UUID `db:"id"`
	DiscordID string    `db:"discord_id"`
	Username  string    `db:"username"`
	Timezone  string    `db:"timezone"`
	CreatedAt time.Time `db:"created_at"`
}

// Location resolves the employee's timezone, falling back to UTC.
func (e *Employee) Location() *time.Location {
	if e == nil || e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

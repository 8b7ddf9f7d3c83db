package models

import (
	"strings"
	"time"
)

// Hard column limits for customer names; values are truncated, never rejected.
const (
	CustomerFirstNameMax = 20
	CustomerLastNameMax  = 30
)

// Customer represents an external participant, keyed by email.
type Customer struct {
	ID        int       `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FirstName *string   `json:"first_name,omitempty" db:"first_name"`
	LastName  *string   `json:"last_name,omitempty" db:"last_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SetNameFromDisplay splits a display name into truncated first/last fields.
func (c *Customer) SetNameFromDisplay(display string) {
	display = strings.TrimSpace(display)
	if display == "" {
		return
	}
	first, last := display, ""
	if idx := strings.IndexAny(display, " \t"); idx > 0 {
		first = display[:idx]
		last = strings.TrimSpace(display[idx+1:])
	}
	first = Truncate(first, CustomerFirstNameMax)
	last = Truncate(last, CustomerLastNameMax)
	if first != "" {
		c.FirstName = &first
	}
	if last != "" {
		c.LastName = &last
	}
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// User represents an internal operator account. Read-only for ingestion.
type User struct {
	ID        int       `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FirstName *string   `json:"first_name,omitempty" db:"first_name"`
	LastName  *string   `json:"last_name,omitempty" db:"last_name"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// UserRepository resolves internal operator accounts. Read-only for ingestion.
type UserRepository struct {
	ext sqlx.Ext
}

func NewUserRepository(ext sqlx.Ext) *UserRepository {
	return &UserRepository{ext: ext}
}

// GetByEmail returns the active user with an exact email match, or nil when
// the address does not belong to an operator.
func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	user := &models.User{}
	query := r.ext.Rebind(`SELECT * FROM users WHERE email = ? AND is_active = TRUE`)
	if err := sqlx.Get(r.ext, user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %s: %w", email, err)
	}
	return user, nil
}

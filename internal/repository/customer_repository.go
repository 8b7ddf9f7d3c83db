package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// CustomerRepository upserts external participants keyed by email.
type CustomerRepository struct {
	ext sqlx.Ext
}

func NewCustomerRepository(ext sqlx.Ext) *CustomerRepository {
	return &CustomerRepository{ext: ext}
}

func (r *CustomerRepository) GetByEmail(email string) (*models.Customer, error) {
	customer := &models.Customer{}
	query := r.ext.Rebind(`SELECT * FROM customers WHERE email = ?`)
	if err := sqlx.Get(r.ext, customer, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return customer, nil
}

// Upsert creates a customer for the address or fills missing name fields on
// the existing record. It never duplicates a customer by email.
func (r *CustomerRepository) Upsert(email, displayName string) (*models.Customer, error) {
	existing, err := r.GetByEmail(email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if displayName != "" && existing.FirstName == nil && existing.LastName == nil {
			existing.SetNameFromDisplay(displayName)
			query := r.ext.Rebind(`UPDATE customers SET first_name = ?, last_name = ?, updated_at = ? WHERE id = ?`)
			if _, err := r.ext.Exec(query, existing.FirstName, existing.LastName, time.Now(), existing.ID); err != nil {
				return nil, fmt.Errorf("update customer %s: %w", email, err)
			}
		}
		return existing, nil
	}

	customer := &models.Customer{Email: email}
	customer.SetNameFromDisplay(displayName)
	now := time.Now()
	query := r.ext.Rebind(`
		INSERT INTO customers (email, first_name, last_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	res, err := r.ext.Exec(query, customer.Email, customer.FirstName, customer.LastName, now, now)
	if err != nil {
		return nil, fmt.Errorf("create customer %s: %w", email, err)
	}
	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		customer.ID = int(id)
	} else {
		// Drivers without LastInsertId support (postgres) fall back to a lookup.
		created, lookupErr := r.GetByEmail(email)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return created, nil
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now
	return customer, nil
}

// Package identity maps message participants to operator accounts and
// customer records.
package identity

import (
	"errors"
	"fmt"
	"log"

	"github.com/maildesk-io/maildesk-ce/internal/mail/address"
	"github.com/maildesk-io/maildesk-ce/internal/mail/connector"
	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// ErrNoSender means no From address could be resolved to an email. This is a
// hard failure for the message.
var ErrNoSender = errors.New("no resolvable sender address")

type customerStore interface {
	Upsert(email, displayName string) (*models.Customer, error)
}

type userLookup interface {
	GetByEmail(email string) (*models.User, error)
}

// Resolver resolves sender identity and keeps the customer directory
// populated for every participant.
type Resolver struct {
	customers customerStore
	users     userLookup
	logger    *log.Logger
}

// NewResolver wires the resolver against transaction-scoped stores.
func NewResolver(customers customerStore, users userLookup, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{customers: customers, users: users, logger: logger}
}

// ResolveSender resolves the first From address to a customer and, when the
// address belongs to an operator, the matching user. The customer is upserted
// so the sender always has a directory record.
func (r *Resolver) ResolveSender(from []any) (*models.Customer, *models.User, error) {
	addrs := address.Parse(from...)
	if len(addrs) == 0 {
		return nil, nil, ErrNoSender
	}
	sender := addrs[0]
	user, err := r.users.GetByEmail(sender.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup user %s: %w", sender.Email, err)
	}
	customer, err := r.customers.Upsert(sender.Email, sender.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("upsert sender %s: %w", sender.Email, err)
	}
	return customer, user, nil
}

// SyncParticipants upserts a customer for every other address on the message,
// excluding the mailbox's own address.
func (r *Resolver) SyncParticipants(msg *connector.Message, mailbox *models.Mailbox) error {
	var values []any
	values = append(values, msg.From...)
	values = append(values, msg.ReplyTo...)
	values = append(values, msg.To...)
	values = append(values, msg.Cc...)
	values = append(values, msg.Bcc...)

	seen := make(map[string]struct{})
	for _, addr := range address.Parse(values...) {
		if mailbox.IsAddressedTo(addr.Email) {
			continue
		}
		if _, ok := seen[addr.Email]; ok {
			continue
		}
		seen[addr.Email] = struct{}{}
		if _, err := r.customers.Upsert(addr.Email, addr.Name); err != nil {
			return fmt.Errorf("sync participant %s: %w", addr.Email, err)
		}
	}
	return nil
}

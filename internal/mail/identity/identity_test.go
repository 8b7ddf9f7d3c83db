package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maildesk-io/maildesk-ce/internal/mail/connector"
	"github.com/maildesk-io/maildesk-ce/internal/models"
)

type fakeCustomers struct {
	upserts []string
	byEmail map[string]*models.Customer
	nextID  int
}

func (f *fakeCustomers) Upsert(email, displayName string) (*models.Customer, error) {
	f.upserts = append(f.upserts, email)
	if f.byEmail == nil {
		f.byEmail = map[string]*models.Customer{}
	}
	if c, ok := f.byEmail[email]; ok {
		return c, nil
	}
	f.nextID++
	c := &models.Customer{ID: f.nextID, Email: email}
	c.SetNameFromDisplay(displayName)
	f.byEmail[email] = c
	return c, nil
}

type fakeUsers struct {
	byEmail map[string]*models.User
}

func (f *fakeUsers) GetByEmail(email string) (*models.User, error) {
	return f.byEmail[email], nil
}

func TestResolveSenderCustomer(t *testing.T) {
	customers := &fakeCustomers{}
	resolver := NewResolver(customers, &fakeUsers{}, nil)

	customer, user, err := resolver.ResolveSender([]any{"Jane Doe <jane@example.com>"})
	require.NoError(t, err)
	require.Nil(t, user)
	require.Equal(t, "jane@example.com", customer.Email)
	require.NotNil(t, customer.FirstName)
	require.Equal(t, "Jane", *customer.FirstName)
}

func TestResolveSenderOperator(t *testing.T) {
	users := &fakeUsers{byEmail: map[string]*models.User{
		"agent@example.com": {ID: 3, Email: "agent@example.com"},
	}}
	resolver := NewResolver(&fakeCustomers{}, users, nil)

	customer, user, err := resolver.ResolveSender([]any{"agent@example.com"})
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, 3, user.ID)
	// Operators still get a customer record so cross-role history lines up.
	require.NotNil(t, customer)
}

func TestResolveSenderFirstAddressWins(t *testing.T) {
	customers := &fakeCustomers{}
	resolver := NewResolver(customers, &fakeUsers{}, nil)

	customer, _, err := resolver.ResolveSender([]any{"first@example.com", "second@example.com"})
	require.NoError(t, err)
	require.Equal(t, "first@example.com", customer.Email)
}

func TestResolveSenderNoAddress(t *testing.T) {
	resolver := NewResolver(&fakeCustomers{}, &fakeUsers{}, nil)
	_, _, err := resolver.ResolveSender([]any{"not an address"})
	require.ErrorIs(t, err, ErrNoSender)
}

func TestSyncParticipantsExcludesMailboxAndDedups(t *testing.T) {
	customers := &fakeCustomers{}
	resolver := NewResolver(customers, &fakeUsers{}, nil)

	msg := &connector.Message{
		From: []any{"jane@example.com"},
		To:   []any{"support@example.com", "colleague@example.com"},
		Cc:   []any{"Jane <JANE@example.com>", "colleague@example.com"},
	}
	mailbox := &models.Mailbox{ID: 1, Email: "support@example.com"}
	require.NoError(t, resolver.SyncParticipants(msg, mailbox))
	require.ElementsMatch(t, []string{"jane@example.com", "colleague@example.com"}, customers.upserts)
}

package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/maildesk-io/maildesk-ce/internal/database"
	"github.com/maildesk-io/maildesk-ce/internal/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	// The in-memory database lives on a single connection.
	db.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func seedMailbox(t *testing.T, db *sqlx.DB) *models.Mailbox {
	t.Helper()
	server := "mail.example.com"
	_, err := db.Exec(`INSERT INTO mailboxes (name, email, in_protocol, in_server, is_active)
		VALUES ('Support', 'support@example.com', 'imaps', ?, TRUE)`, server)
	require.NoError(t, err)
	mailbox, err := NewMailboxRepository(db).GetByID(1)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO folders (mailbox_id, type) VALUES (?, ?)`, mailbox.ID, models.FolderTypeInbox)
	require.NoError(t, err)
	return mailbox
}

func TestMailboxRepositoryGetActive(t *testing.T) {
	db := newTestDB(t)
	seedMailbox(t, db)
	_, err := db.Exec(`INSERT INTO mailboxes (name, email, is_active) VALUES ('Off', 'off@example.com', FALSE)`)
	require.NoError(t, err)

	active, err := NewMailboxRepository(db).GetActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "support@example.com", active[0].Email)
	require.True(t, active[0].HasInServer())
}

func TestMailboxRepositoryGetFolder(t *testing.T) {
	db := newTestDB(t)
	mailbox := seedMailbox(t, db)
	repo := NewMailboxRepository(db)

	folder, err := repo.GetFolder(mailbox.ID, models.FolderTypeInbox)
	require.NoError(t, err)
	require.Equal(t, models.FolderTypeInbox, folder.Type)

	_, err = repo.GetFolder(mailbox.ID, models.FolderTypeSpam)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFetchedUIDLedger(t *testing.T) {
	db := newTestDB(t)
	mailbox := seedMailbox(t, db)
	repo := NewMailboxRepository(db)

	has, err := repo.HasFetchedUID(mailbox.ID, "uid-1")
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, repo.RecordFetchedUID(mailbox.ID, "uid-1"))
	has, err = repo.HasFetchedUID(mailbox.ID, "uid-1")
	require.NoError(t, err)
	require.True(t, has)
}

func TestCustomerUpsertCreatesOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewCustomerRepository(db)

	created, err := repo.Upsert("jane@example.com", "Jane Doe")
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Equal(t, "Jane", *created.FirstName)
	require.Equal(t, "Doe", *created.LastName)

	again, err := repo.Upsert("jane@example.com", "Janet Other")
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)
	// An existing name is never overwritten.
	require.Equal(t, "Jane", *again.FirstName)
}

func TestCustomerUpsertFillsMissingName(t *testing.T) {
	db := newTestDB(t)
	repo := NewCustomerRepository(db)

	created, err := repo.Upsert("jane@example.com", "")
	require.NoError(t, err)
	require.Nil(t, created.FirstName)

	filled, err := repo.Upsert("jane@example.com", "Jane Doe")
	require.NoError(t, err)
	require.Equal(t, created.ID, filled.ID)
	require.Equal(t, "Jane", *filled.FirstName)
}

func TestUserRepositoryGetByEmail(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec(`INSERT INTO users (email, is_active) VALUES ('agent@example.com', TRUE)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (email, is_active) VALUES ('gone@example.com', FALSE)`)
	require.NoError(t, err)
	repo := NewUserRepository(db)

	user, err := repo.GetByEmail("agent@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)

	user, err = repo.GetByEmail("gone@example.com")
	require.NoError(t, err)
	require.Nil(t, user)

	user, err = repo.GetByEmail("nobody@example.com")
	require.NoError(t, err)
	require.Nil(t, user)
}

func createConversation(t *testing.T, db *sqlx.DB, mailbox *models.Mailbox, customerID int) *models.Conversation {
	t.Helper()
	repo := NewConversationRepository(db)
	number, err := repo.NextNumber(mailbox.ID)
	require.NoError(t, err)
	conversation := &models.Conversation{
		Number:        number,
		MailboxID:     mailbox.ID,
		FolderID:      1,
		CustomerID:    customerID,
		CustomerEmail: "jane@example.com",
		Subject:       "Printer on fire",
		Status:        models.ConversationStatusActive,
	}
	require.NoError(t, repo.Create(conversation))
	return conversation
}

func TestConversationNumbersArePerMailbox(t *testing.T) {
	db := newTestDB(t)
	mailbox := seedMailbox(t, db)
	customer, err := NewCustomerRepository(db).Upsert("jane@example.com", "Jane")
	require.NoError(t, err)

	first := createConversation(t, db, mailbox, customer.ID)
	second := createConversation(t, db, mailbox, customer.ID)
	require.Equal(t, 1, first.Number)
	require.Equal(t, 2, second.Number)
}

func TestConversationRecordReply(t *testing.T) {
	db := newTestDB(t)
	mailbox := seedMailbox(t, db)
	customer, err := NewCustomerRepository(db).Upsert("jane@example.com", "Jane")
	require.NoError(t, err)
	conversation := createConversation(t, db, mailbox, customer.ID)

	repo := NewConversationRepository(db)
	replyAt := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordReply(conversation, replyAt, models.ReplyFromCustomer,
		[]string{"cc@example.com"}, nil, true))

	stored, err := repo.GetByID(conversation.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.ThreadsCount)
	require.True(t, stored.HasAttachments)
	require.Equal(t, models.ReplyFromCustomer, *stored.LastReplyFrom)
	require.True(t, stored.CC.Contains("cc@example.com"))
}

func TestThreadInsertAndLookup(t *testing.T) {
	db := newTestDB(t)
	mailbox := seedMailbox(t, db)
	customer, err := NewCustomerRepository(db).Upsert("jane@example.com", "Jane")
	require.NoError(t, err)
	conversation := createConversation(t, db, mailbox, customer.ID)

	repo := NewThreadRepository(db)
	thread := &models.Thread{
		ConversationID: conversation.ID,
		Type:           models.ThreadTypeCustomer,
		CustomerID:     &customer.ID,
		Body:           "hello",
		From:           "jane@example.com",
		MessageID:      "m1@example.com",
		First:          true,
	}
	require.NoError(t, repo.Insert(thread))
	require.NotZero(t, thread.ID)

	found, err := repo.GetByMessageID("m1@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, thread.ID, found.ID)

	found, err = repo.GetByAnyMessageID([]string{"", "missing@example.com", "m1@example.com"})
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := repo.GetByMessageID("missing@example.com")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestThreadMessageIDUniqueness(t *testing.T) {
	db := newTestDB(t)
	mailbox := seedMailbox(t, db)
	customer, err := NewCustomerRepository(db).Upsert("jane@example.com", "Jane")
	require.NoError(t, err)
	conversation := createConversation(t, db, mailbox, customer.ID)
	repo := NewThreadRepository(db)

	base := models.Thread{
		ConversationID: conversation.ID,
		Type:           models.ThreadTypeCustomer,
		Body:           "hello",
		From:           "jane@example.com",
		MessageID:      "dup@example.com",
	}
	first := base
	require.NoError(t, repo.Insert(&first))

	second := base
	err = repo.Insert(&second)
	require.Error(t, err)
	require.True(t, database.IsDuplicateKey(err))
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	boom := errors.New("boom")

	err := InTx(db, func(tx *sqlx.Tx) error {
		if _, err := NewCustomerRepository(tx).Upsert("jane@example.com", "Jane"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = NewCustomerRepository(db).GetByEmail("jane@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInTxCommits(t *testing.T) {
	db := newTestDB(t)
	err := InTx(db, func(tx *sqlx.Tx) error {
		_, err := NewCustomerRepository(tx).Upsert("jane@example.com", "Jane")
		return err
	})
	require.NoError(t, err)

	customer, err := NewCustomerRepository(db).GetByEmail("jane@example.com")
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", customer.Email)
}

func TestUpdateBody(t *testing.T) {
	db := newTestDB(t)
	mailbox := seedMailbox(t, db)
	customer, err := NewCustomerRepository(db).Upsert("jane@example.com", "Jane")
	require.NoError(t, err)
	conversation := createConversation(t, db, mailbox, customer.ID)
	repo := NewThreadRepository(db)

	thread := &models.Thread{
		ConversationID: conversation.ID,
		Type:           models.ThreadTypeCustomer,
		Body:           "cid:img1",
		From:           "jane@example.com",
		MessageID:      "m2@example.com",
	}
	require.NoError(t, repo.Insert(thread))
	require.NoError(t, repo.UpdateBody(thread.ID, "https://files.example.com/img1"))

	stored, err := repo.GetByMessageID("m2@example.com")
	require.NoError(t, err)
	require.Equal(t, "https://files.example.com/img1", stored.Body)
}

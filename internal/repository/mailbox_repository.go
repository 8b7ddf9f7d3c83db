package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MailboxRepository reads mailbox configuration and folder layout.
type MailboxRepository struct {
	ext sqlx.Ext
}

func NewMailboxRepository(ext sqlx.Ext) *MailboxRepository {
	return &MailboxRepository{ext: ext}
}

func (r *MailboxRepository) GetByID(id int) (*models.Mailbox, error) {
	mailbox := &models.Mailbox{}
	query := r.ext.Rebind(`SELECT * FROM mailboxes WHERE id = ?`)
	if err := sqlx.Get(r.ext, mailbox, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mailbox %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get mailbox %d: %w", id, err)
	}
	return mailbox, nil
}

func (r *MailboxRepository) GetActive() ([]*models.Mailbox, error) {
	var mailboxes []*models.Mailbox
	query := `SELECT * FROM mailboxes WHERE is_active = TRUE ORDER BY email`
	if err := sqlx.Select(r.ext, &mailboxes, query); err != nil {
		return nil, fmt.Errorf("list active mailboxes: %w", err)
	}
	return mailboxes, nil
}

// GetFolder returns the mailbox folder of the given type. A missing inbox
// folder is a configuration error for new conversations.
func (r *MailboxRepository) GetFolder(mailboxID, folderType int) (*models.Folder, error) {
	folder := &models.Folder{}
	query := r.ext.Rebind(`SELECT * FROM folders WHERE mailbox_id = ? AND type = ?`)
	if err := sqlx.Get(r.ext, folder, query, mailboxID, folderType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder type %d for mailbox %d: %w", folderType, mailboxID, ErrNotFound)
		}
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return folder, nil
}

// HasFetchedUID consults the POP3 fetched-UID ledger; POP3 has no server-side
// seen flag, so consumed UIDs are tracked locally instead.
func (r *MailboxRepository) HasFetchedUID(mailboxID int, uid string) (bool, error) {
	var count int
	query := r.ext.Rebind(`SELECT COUNT(*) FROM fetched_uids WHERE mailbox_id = ? AND uid = ?`)
	if err := sqlx.Get(r.ext, &count, query, mailboxID, uid); err != nil {
		return false, fmt.Errorf("check fetched uid: %w", err)
	}
	return count > 0, nil
}

func (r *MailboxRepository) RecordFetchedUID(mailboxID int, uid string) error {
	query := r.ext.Rebind(`INSERT INTO fetched_uids (mailbox_id, uid, fetched_at) VALUES (?, ?, ?)`)
	if _, err := r.ext.Exec(query, mailboxID, uid, time.Now()); err != nil {
		return fmt.Errorf("record fetched uid: %w", err)
	}
	return nil
}

package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// ConversationRepository creates and mutates conversation aggregates.
type ConversationRepository struct {
	ext sqlx.Ext
}

func NewConversationRepository(ext sqlx.Ext) *ConversationRepository {
	return &ConversationRepository{ext: ext}
}

func (r *ConversationRepository) GetByID(id int) (*models.Conversation, error) {
	conversation := &models.Conversation{}
	query := r.ext.Rebind(`SELECT * FROM conversations WHERE id = ?`)
	if err := sqlx.Get(r.ext, conversation, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return conversation, nil
}

// NextNumber allocates the next sequential per-mailbox conversation number.
// Callers must hold the message transaction; the (mailbox_id, number) unique
// constraint backstops concurrent allocation.
func (r *ConversationRepository) NextNumber(mailboxID int) (int, error) {
	var current sql.NullInt64
	query := r.ext.Rebind(`SELECT MAX(number) FROM conversations WHERE mailbox_id = ?`)
	if err := sqlx.Get(r.ext, &current, query, mailboxID); err != nil {
		return 0, fmt.Errorf("allocate conversation number: %w", err)
	}
	return int(current.Int64) + 1, nil
}

func (r *ConversationRepository) Create(conversation *models.Conversation) error {
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	query := r.ext.Rebind(`
		INSERT INTO conversations (
			number, mailbox_id, folder_id, customer_id, customer_email, subject,
			status, cc, bcc, threads_count, has_attachments, last_reply_at,
			last_reply_from, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := r.ext.Exec(query,
		conversation.Number,
		conversation.MailboxID,
		conversation.FolderID,
		conversation.CustomerID,
		conversation.CustomerEmail,
		conversation.Subject,
		conversation.Status,
		conversation.CC,
		conversation.BCC,
		conversation.ThreadsCount,
		conversation.HasAttachments,
		conversation.LastReplyAt,
		conversation.LastReplyFrom,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		conversation.ID = int(id)
		return nil
	}
	query = r.ext.Rebind(`SELECT id FROM conversations WHERE mailbox_id = ? AND number = ?`)
	if err := sqlx.Get(r.ext, &conversation.ID, query, conversation.MailboxID, conversation.Number); err != nil {
		return fmt.Errorf("resolve created conversation id: %w", err)
	}
	return nil
}

// RecordReply folds one more thread into the conversation: bumps the thread
// counter, merges participants, and refreshes the reply attribution fields.
func (r *ConversationRepository) RecordReply(conversation *models.Conversation, replyAt time.Time, replyFrom string, cc, bcc []string, hasAttachments bool) error {
	conversation.ThreadsCount++
	conversation.CC = conversation.CC.Merge(cc...)
	conversation.BCC = conversation.BCC.Merge(bcc...)
	conversation.LastReplyAt = &replyAt
	conversation.LastReplyFrom = &replyFrom
	if hasAttachments {
		conversation.HasAttachments = true
	}
	conversation.UpdatedAt = time.Now()
	query := r.ext.Rebind(`
		UPDATE conversations SET
			threads_count = ?, cc = ?, bcc = ?, last_reply_at = ?,
			last_reply_from = ?, has_attachments = ?, status = ?, updated_at = ?
		WHERE id = ?`)
	if _, err := r.ext.Exec(query,
		conversation.ThreadsCount,
		conversation.CC,
		conversation.BCC,
		conversation.LastReplyAt,
		conversation.LastReplyFrom,
		conversation.HasAttachments,
		conversation.Status,
		conversation.UpdatedAt,
		conversation.ID,
	); err != nil {
		return fmt.Errorf("record reply on conversation %d: %w", conversation.ID, err)
	}
	return nil
}

// SetHasAttachments raises the conversation-level attachment flag.
func (r *ConversationRepository) SetHasAttachments(conversationID int) error {
	query := r.ext.Rebind(`UPDATE conversations SET has_attachments = TRUE WHERE id = ?`)
	if _, err := r.ext.Exec(query, conversationID); err != nil {
		return fmt.Errorf("set has_attachments on conversation %d: %w", conversationID, err)
	}
	return nil
}

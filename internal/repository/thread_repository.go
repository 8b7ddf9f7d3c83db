package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// ThreadRepository persists inbound messages. The message_id uniqueness
// constraint is the safety net against concurrent double-commits.
type ThreadRepository struct {
	ext sqlx.Ext
}

func NewThreadRepository(ext sqlx.Ext) *ThreadRepository {
	return &ThreadRepository{ext: ext}
}

// GetByMessageID returns the thread carrying the message identifier, or nil.
func (r *ThreadRepository) GetByMessageID(messageID string) (*models.Thread, error) {
	thread := &models.Thread{}
	query := r.ext.Rebind(`SELECT * FROM threads WHERE message_id = ?`)
	if err := sqlx.Get(r.ext, thread, query, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread by message id: %w", err)
	}
	return thread, nil
}

// GetByAnyMessageID returns the first thread matching any of the identifiers,
// in the order given.
func (r *ThreadRepository) GetByAnyMessageID(messageIDs []string) (*models.Thread, error) {
	for _, id := range messageIDs {
		if id == "" {
			continue
		}
		thread, err := r.GetByMessageID(id)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			return thread, nil
		}
	}
	return nil, nil
}

func (r *ThreadRepository) Insert(thread *models.Thread) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now()
	}
	query := r.ext.Rebind(`
		INSERT INTO threads (
			conversation_id, type, customer_id, created_by_user_id, body,
			from_email, to_emails, cc_emails, bcc_emails, message_id, headers,
			first, has_attachments, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := r.ext.Exec(query,
		thread.ConversationID,
		thread.Type,
		thread.CustomerID,
		thread.CreatedByUserID,
		thread.Body,
		thread.From,
		thread.To,
		thread.CC,
		thread.BCC,
		thread.MessageID,
		thread.Headers,
		thread.First,
		thread.HasAttachments,
		thread.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert thread %s: %w", thread.MessageID, err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		thread.ID = int(id)
		return nil
	}
	query = r.ext.Rebind(`SELECT id FROM threads WHERE message_id = ?`)
	if err := sqlx.Get(r.ext, &thread.ID, query, thread.MessageID); err != nil {
		return fmt.Errorf("resolve inserted thread id: %w", err)
	}
	return nil
}

// UpdateBody persists the body after attachment cid references were rewritten.
func (r *ThreadRepository) UpdateBody(threadID int, body string) error {
	query := r.ext.Rebind(`UPDATE threads SET body = ? WHERE id = ?`)
	if _, err := r.ext.Exec(query, body, threadID); err != nil {
		return fmt.Errorf("update thread %d body: %w", threadID, err)
	}
	return nil
}

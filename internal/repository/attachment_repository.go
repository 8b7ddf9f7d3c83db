package repository

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// AttachmentRepository persists stored MIME part records.
type AttachmentRepository struct {
	ext sqlx.Ext
}

func NewAttachmentRepository(ext sqlx.Ext) *AttachmentRepository {
	return &AttachmentRepository{ext: ext}
}

func (r *AttachmentRepository) Insert(attachment *models.Attachment) error {
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now()
	}
	query := r.ext.Rebind(`
		INSERT INTO attachments (
			thread_id, conversation_id, file_name, file_dir, file_size,
			mime_type, embedded, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := r.ext.Exec(query,
		attachment.ThreadID,
		attachment.ConversationID,
		attachment.FileName,
		attachment.FileDir,
		attachment.FileSize,
		attachment.MimeType,
		attachment.Embedded,
		attachment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attachment %s: %w", attachment.FileName, err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		attachment.ID = int(id)
	}
	return nil
}

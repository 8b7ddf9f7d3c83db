// Package attach persists MIME parts to blob storage and rewrites inline
// cid: references to resolvable URLs.
package attach

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/maildesk-io/maildesk-ce/internal/mail/connector"
	"github.com/maildesk-io/maildesk-ce/internal/models"
	"github.com/maildesk-io/maildesk-ce/internal/storage"
)

type attachmentStore interface {
	Insert(attachment *models.Attachment) error
}

// Materializer stores attachment parts for one message.
type Materializer struct {
	backend storage.Backend
	records attachmentStore
	logger  *log.Logger
}

func NewMaterializer(backend storage.Backend, records attachmentStore, logger *log.Logger) *Materializer {
	if logger == nil {
		logger = log.Default()
	}
	return &Materializer{backend: backend, records: records, logger: logger}
}

// Result reports what materialization did to the message.
type Result struct {
	Body           string
	BodyRewritten  bool
	Attachments    []*models.Attachment
	HasNonEmbedded bool
}

// Materialize persists each named part under a collision-resistant key,
// classifies inline parts, and rewrites referenced cid: URIs in body. A
// single part's storage failure is logged and skipped; it never fails the
// enclosing message.
func (m *Materializer) Materialize(ctx context.Context, parts []connector.Attachment, conversation *models.Conversation, thread *models.Thread, body string) (Result, error) {
	result := Result{Body: body}
	for _, part := range parts {
		if strings.TrimSpace(part.FileName) == "" {
			continue
		}
		key := storageKey(conversation.ID, part.FileName)
		size, err := m.backend.Store(ctx, key, bytes.NewReader(part.Data))
		if err != nil {
			m.logger.Printf("attach: store failed for %s: %v", part.FileName, err)
			continue
		}

		cidRef := ""
		if part.ContentID != "" {
			cidRef = "cid:" + part.ContentID
		}
		embedded := part.Inline() || (cidRef != "" && strings.Contains(result.Body, cidRef))

		record := &models.Attachment{
			ThreadID:       thread.ID,
			ConversationID: conversation.ID,
			FileName:       part.FileName,
			FileDir:        key,
			FileSize:       size,
			MimeType:       part.MimeType,
			Embedded:       embedded,
		}
		if err := m.records.Insert(record); err != nil {
			return result, fmt.Errorf("record attachment %s: %w", part.FileName, err)
		}
		result.Attachments = append(result.Attachments, record)

		if cidRef != "" && strings.Contains(result.Body, cidRef) {
			result.Body = strings.ReplaceAll(result.Body, cidRef, m.backend.URL(key))
			result.BodyRewritten = true
		}
		if !embedded {
			result.HasNonEmbedded = true
		}
	}
	return result, nil
}

// storageKey generates a per-conversation key. The original filename survives
// only as metadata; the key keeps its extension for content-type sniffing.
func storageKey(conversationID int, filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	return fmt.Sprintf("conversations/%d/%s%s", conversationID, uuid.NewString(), ext)
}

package models

import (
	"time"
)

// Conversation statuses.
const (
	ConversationStatusActive  = "active"
	ConversationStatusPending = "pending"
	ConversationStatusClosed  = "closed"
	ConversationStatusSpam    = "spam"
)

// Sources of the most recent reply on a conversation.
const (
	ReplyFromCustomer = "customer"
	ReplyFromUser     = "user"
)

// Conversation is the aggregate ticket formed by one or more threads.
type Conversation struct {
	ID             int        `json:"id" db:"id"`
	Number         int        `json:"number" db:"number"`
	MailboxID      int        `json:"mailbox_id" db:"mailbox_id"`
	FolderID       int        `json:"folder_id" db:"folder_id"`
	CustomerID     int        `json:"customer_id" db:"customer_id"`
	CustomerEmail  string     `json:"customer_email" db:"customer_email"`
	Subject        string     `json:"subject" db:"subject"`
	Status         string     `json:"status" db:"status"`
	CC             StringList `json:"cc,omitempty" db:"cc"`
	BCC            StringList `json:"bcc,omitempty" db:"bcc"`
	ThreadsCount   int        `json:"threads_count" db:"threads_count"`
	HasAttachments bool       `json:"has_attachments" db:"has_attachments"`
	LastReplyAt    *time.Time `json:"last_reply_at,omitempty" db:"last_reply_at"`
	LastReplyFrom  *string    `json:"last_reply_from,omitempty" db:"last_reply_from"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Thread types. Ingestion only produces customer and user messages.
const (
	ThreadTypeCustomer = "customer"
	ThreadTypeMessage  = "message"
	ThreadTypeNote     = "note"
)

// Thread is one message folded into a conversation.
type Thread struct {
	ID              int        `json:"id" db:"id"`
	ConversationID  int        `json:"conversation_id" db:"conversation_id"`
	Type            string     `json:"type" db:"type"`
	CustomerID      *int       `json:"customer_id,omitempty" db:"customer_id"`
	CreatedByUserID *int       `json:"created_by_user_id,omitempty" db:"created_by_user_id"`
	Body            string     `json:"body" db:"body"`
	From            string     `json:"from" db:"from_email"`
	To              StringList `json:"to,omitempty" db:"to_emails"`
	CC              StringList `json:"cc,omitempty" db:"cc_emails"`
	BCC             StringList `json:"bcc,omitempty" db:"bcc_emails"`
	MessageID       string     `json:"message_id" db:"message_id"`
	Headers         *string    `json:"headers,omitempty" db:"headers"`
	First           bool       `json:"first" db:"first"`
	HasAttachments  bool       `json:"has_attachments" db:"has_attachments"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// FromUser reports whether the thread was authored by an internal operator.
func (t *Thread) FromUser() bool {
	return t.CreatedByUserID != nil
}

// Attachment is one stored MIME part linked to a thread.
type Attachment struct {
	ID             int       `json:"id" db:"id"`
	ThreadID       int       `json:"thread_id" db:"thread_id"`
	ConversationID int       `json:"conversation_id" db:"conversation_id"`
	FileName       string    `json:"file_name" db:"file_name"`
	FileDir        string    `json:"file_dir" db:"file_dir"`
	FileSize       int64     `json:"file_size" db:"file_size"`
	MimeType       string    `json:"mime_type" db:"mime_type"`
	Embedded       bool      `json:"embedded" db:"embedded"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

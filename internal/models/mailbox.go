package models

import (
	"strings"
	"time"
)

// Mailbox protocol identifiers for the inbound connection.
const (
	ProtoIMAP  = "imap"
	ProtoIMAPS = "imaps"
	ProtoPOP3  = "pop3"
	ProtoPOP3S = "pop3s"
)

// Folder types within a mailbox.
const (
	FolderTypeInbox  = 1
	FolderTypeSent   = 2
	FolderTypeDrafts = 3
	FolderTypeSpam   = 4
)

// Mailbox represents a configured support mail account.
type Mailbox struct {
	ID         int       `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	InProtocol string    `json:"in_protocol" db:"in_protocol"`
	InServer   *string   `json:"in_server,omitempty" db:"in_server"`
	InPort     *int      `json:"in_port,omitempty" db:"in_port"`
	InUsername *string   `json:"in_username,omitempty" db:"in_username"`
	InPassword *string   `json:"-" db:"in_password"`
	InFolders  *string   `json:"in_folders,omitempty" db:"in_folders"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// HasInServer reports whether an inbound server is configured.
func (m *Mailbox) HasInServer() bool {
	return m.InServer != nil && strings.TrimSpace(*m.InServer) != ""
}

// FolderList returns the configured fetch folders, defaulting to INBOX.
func (m *Mailbox) FolderList() []string {
	if m.InFolders == nil || strings.TrimSpace(*m.InFolders) == "" {
		return []string{"INBOX"}
	}
	var out []string
	for _, f := range strings.Split(*m.InFolders, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return []string{"INBOX"}
	}
	return out
}

// IsAddressedTo reports whether addr is the mailbox's own address.
func (m *Mailbox) IsAddressedTo(addr string) bool {
	return strings.EqualFold(strings.TrimSpace(addr), strings.TrimSpace(m.Email))
}

// Folder represents one typed folder of a mailbox's conversation list.
type Folder struct {
	ID        int       `json:"id" db:"id"`
	MailboxID int       `json:"mailbox_id" db:"mailbox_id"`
	Type      int       `json:"type" db:"type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

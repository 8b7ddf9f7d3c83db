// Package connector speaks the mail-store protocols (IMAP, POP3) and exposes
// fetched messages to the ingestion pipeline in a protocol-neutral form.
package connector

import (
	"regexp"
	"strings"
	"time"
)

// SearchCriteria selects candidate messages within the selected folder.
type SearchCriteria struct {
	Since  time.Time
	Unseen bool
	// DisableCharset narrows the query to flag-only criteria for servers that
	// reject charset-qualified searches; date filtering then happens client
	// side. One retry with this set is the only charset recovery attempted.
	DisableCharset bool
}

// Client is one protocol session against a mailbox's mail store. Queries must
// not mutate server-side message state; MarkSeen is the only mutation.
type Client interface {
	Connect() error
	SelectFolder(name string) error
	Search(criteria SearchCriteria) ([]string, error)
	Fetch(uids []string) ([]*Message, error)
	MarkSeen(uid string) error
	Close() error
}

// Attachment is one MIME part of a fetched message.
type Attachment struct {
	FileName    string
	MimeType    string
	ContentID   string
	Disposition string
	Data        []byte
}

// Inline reports whether the part's declared disposition is inline.
func (a Attachment) Inline() bool {
	return strings.EqualFold(a.Disposition, "inline")
}

// Message is a fetched message in the form the pipeline consumes. Address
// fields keep their source representation (structured address, key-value map,
// or raw string); the address package normalizes them on use.
type Message struct {
	UID         string
	MessageID   string
	InReplyTo   []string
	References  []string
	Subject     string
	Date        time.Time
	From        []any
	ReplyTo     []any
	To          []any
	Cc          []any
	Bcc         []any
	HTMLBody    string
	TextBody    string
	Headers     string
	Attachments []Attachment
}

// IsReply reports whether the message names a parent via In-Reply-To or
// References.
func (m *Message) IsReply() bool {
	return len(m.InReplyTo) > 0 || len(m.References) > 0
}

var charsetErrPattern = regexp.MustCompile(`(?i)charset|encoding not supported|badcharset`)

// IsCharsetError reports whether err looks like the unsupported-character-set
// failure some providers return for qualified searches.
func IsCharsetError(err error) bool {
	return err != nil && charsetErrPattern.MatchString(err.Error())
}

var messageIDPattern = regexp.MustCompile(`<([^<>]+)>`)

// ParseMessageIDs extracts every message identifier from header values that
// may hold one bracketed id, a whitespace-separated chain, or a bare token.
func ParseMessageIDs(values ...string) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		id = NormalizeMessageID(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, raw := range values {
		matches := messageIDPattern.FindAllStringSubmatch(raw, -1)
		if len(matches) == 0 {
			add(raw)
			continue
		}
		for _, m := range matches {
			add(m[1])
		}
	}
	return ids
}

// NormalizeMessageID strips brackets, quotes, and surrounding whitespace.
func NormalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "<>")
	value = strings.Trim(value, `"`)
	return strings.TrimSpace(value)
}

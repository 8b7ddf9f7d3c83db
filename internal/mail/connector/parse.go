package connector

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

const maxPartBytes = 10 * 1024 * 1024

// ParseMessage decodes an RFC822 payload into the pipeline's message form.
// Headers that fail structured decoding keep their raw string shape so the
// address parser can apply its fallbacks.
func ParseMessage(uid string, raw []byte, logger *log.Logger) (*Message, error) {
	if logger == nil {
		logger = log.Default()
	}
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", uid, err)
	}

	msg := &Message{
		UID:     uid,
		Headers: rawHeaderBlock(raw),
	}
	header := &reader.Header
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = decodeWord(header.Get("Subject"))
	}
	if date, err := header.Date(); err == nil {
		msg.Date = date
	}
	msg.MessageID = NormalizeMessageID(header.Get("Message-Id"))
	msg.InReplyTo = ParseMessageIDs(header.Get("In-Reply-To"))
	msg.References = ParseMessageIDs(header.Values("References")...)
	msg.From = addressValues(header, "From")
	msg.ReplyTo = addressValues(header, "Reply-To")
	msg.To = addressValues(header, "To")
	msg.Cc = addressValues(header, "Cc")
	msg.Bcc = addressValues(header, "Bcc")

	readParts(reader, msg, logger)
	return msg, nil
}

func addressValues(header *gomail.Header, key string) []any {
	raw := header.Get(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	list, err := header.AddressList(key)
	if err != nil || len(list) == 0 {
		return []any{decodeWord(raw)}
	}
	out := make([]any, 0, len(list))
	for _, addr := range list {
		out = append(out, addr)
	}
	return out
}

func readParts(reader *gomail.Reader, msg *Message, logger *log.Logger) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Printf("connector: read part failed for %s: %v", msg.UID, err)
			break
		}
		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			readInlinePart(part, header, msg, logger)
		case *gomail.AttachmentHeader:
			if att, ok := readAttachmentPart(part, header, logger); ok {
				msg.Attachments = append(msg.Attachments, att)
			}
		}
	}
}

func readInlinePart(part *gomail.Part, header *gomail.InlineHeader, msg *Message, logger *log.Logger) {
	mimeType, ctParams, err := header.ContentType()
	if err != nil {
		mimeType = "text/plain"
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "text/html") || strings.HasPrefix(mimeType, "text/plain"):
		data, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			logger.Printf("connector: read body part failed for %s: %v", msg.UID, err)
			return
		}
		if strings.HasPrefix(mimeType, "text/html") {
			if msg.HTMLBody == "" {
				msg.HTMLBody = string(data)
			}
		} else if msg.TextBody == "" {
			msg.TextBody = string(data)
		}
	default:
		// Inline non-text parts (embedded images) flow through as attachments.
		att := Attachment{
			MimeType:    mimeType,
			ContentID:   NormalizeMessageID(header.Get("Content-Id")),
			Disposition: "inline",
			FileName:    ctParams["name"],
		}
		if _, dispParams, err := header.ContentDisposition(); err == nil && dispParams["filename"] != "" {
			att.FileName = dispParams["filename"]
		}
		data, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			logger.Printf("connector: read inline part failed for %s: %v", msg.UID, err)
			return
		}
		att.Data = data
		msg.Attachments = append(msg.Attachments, att)
	}
}

func readAttachmentPart(part *gomail.Part, header *gomail.AttachmentHeader, logger *log.Logger) (Attachment, bool) {
	att := Attachment{Disposition: "attachment"}
	if filename, err := header.Filename(); err == nil {
		att.FileName = filename
	}
	mimeType, _, err := header.ContentType()
	if err != nil || strings.TrimSpace(mimeType) == "" {
		mimeType = "application/octet-stream"
	}
	att.MimeType = strings.ToLower(strings.TrimSpace(mimeType))
	att.ContentID = NormalizeMessageID(header.Get("Content-Id"))
	if disp, _, err := header.ContentDisposition(); err == nil && disp != "" {
		att.Disposition = strings.ToLower(disp)
	}
	data, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
	if err != nil {
		logger.Printf("connector: read attachment failed: %v", err)
		return Attachment{}, false
	}
	att.Data = data
	return att, true
}

func rawHeaderBlock(raw []byte) string {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return string(raw[:idx])
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return string(raw[:idx])
	}
	return string(raw)
}

var wordDecoder = &mime.WordDecoder{}

func decodeWord(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	if decoded, err := wordDecoder.DecodeHeader(value); err == nil {
		return decoded
	}
	return value
}

// FirstAddressString renders the first structured address of a header value
// back to "Name <addr>" form, used for failure diagnostics.
func FirstAddressString(values []any) string {
	for _, v := range values {
		switch a := v.(type) {
		case *stdmail.Address:
			return a.String()
		case string:
			return a
		}
	}
	return ""
}

// MessageDate returns the declared send date, or fallback when absent.
func (m *Message) MessageDate(fallback time.Time) time.Time {
	if m.Date.IsZero() {
		return fallback
	}
	return m.Date
}

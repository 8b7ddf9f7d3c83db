package connector

import (
	stdmail "net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const simpleRaw = "From: Jane Doe <jane@example.com>\r\n" +
	"To: Support <support@example.com>, other@example.com\r\n" +
	"Cc: cc@example.com\r\n" +
	"Subject: Printer on fire\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Message-Id: <abc123@mail.example.com>\r\n" +
	"In-Reply-To: <parent@mail.example.com>\r\n" +
	"References: <root@mail.example.com> <parent@mail.example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"The printer is on fire.\r\n"

func TestParseMessageSimple(t *testing.T) {
	msg, err := ParseMessage("11", []byte(simpleRaw), nil)
	require.NoError(t, err)
	require.Equal(t, "11", msg.UID)
	require.Equal(t, "Printer on fire", msg.Subject)
	require.Equal(t, "abc123@mail.example.com", msg.MessageID)
	require.Equal(t, []string{"parent@mail.example.com"}, msg.InReplyTo)
	require.Equal(t, []string{"root@mail.example.com", "parent@mail.example.com"}, msg.References)
	require.True(t, msg.IsReply())
	require.Contains(t, msg.TextBody, "printer is on fire")
	require.Empty(t, msg.HTMLBody)
	require.Equal(t, 2006, msg.Date.Year())
	require.Contains(t, msg.Headers, "Message-Id: <abc123@mail.example.com>")

	from := msg.From
	require.Len(t, from, 1)
	addr, ok := from[0].(*stdmail.Address)
	require.True(t, ok)
	require.Equal(t, "jane@example.com", addr.Address)
	require.Equal(t, "Jane Doe", addr.Name)
	require.Len(t, msg.To, 2)
}

func TestParseMessageMultipartWithAttachment(t *testing.T) {
	raw := strings.Join([]string{
		"From: jane@example.com",
		"To: support@example.com",
		"Subject: report attached",
		"Message-Id: <m1@example.com>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain version",
		"--inner",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html version</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"cGRmLWJ5dGVz",
		"--outer--",
		"",
	}, "\r\n")

	msg, err := ParseMessage("12", []byte(raw), nil)
	require.NoError(t, err)
	require.Contains(t, msg.TextBody, "plain version")
	require.Contains(t, msg.HTMLBody, "html version")
	require.Len(t, msg.Attachments, 1)

	att := msg.Attachments[0]
	require.Equal(t, "report.pdf", att.FileName)
	require.Equal(t, "application/pdf", att.MimeType)
	require.Equal(t, "attachment", att.Disposition)
	require.False(t, att.Inline())
	require.Equal(t, []byte("pdf-bytes"), att.Data)
}

func TestParseMessageInlineImage(t *testing.T) {
	raw := strings.Join([]string{
		"From: jane@example.com",
		"Subject: with image",
		"MIME-Version: 1.0",
		`Content-Type: multipart/related; boundary="rel"`,
		"",
		"--rel",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<img src="cid:img1@example.com">`,
		"--rel",
		`Content-Type: image/png; name="logo.png"`,
		"Content-Id: <img1@example.com>",
		"Content-Disposition: inline",
		"Content-Transfer-Encoding: base64",
		"",
		"cG5nLWJ5dGVz",
		"--rel--",
		"",
	}, "\r\n")

	msg, err := ParseMessage("13", []byte(raw), nil)
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)

	att := msg.Attachments[0]
	require.True(t, att.Inline())
	require.Equal(t, "img1@example.com", att.ContentID)
	require.Equal(t, "logo.png", att.FileName)
	require.Equal(t, []byte("png-bytes"), att.Data)
}

func TestParseMessageEncodedSubjectAndCharset(t *testing.T) {
	raw := "From: jane@example.com\r\n" +
		"Subject: =?ISO-8859-1?Q?Drucker_kaputt_=E4?=\r\n" +
		"Content-Type: text/plain; charset=ISO-8859-1\r\n" +
		"\r\n" +
		"Sch\xf6ne Gr\xfc\xdfe\r\n"

	msg, err := ParseMessage("14", []byte(raw), nil)
	require.NoError(t, err)
	require.Contains(t, msg.Subject, "Drucker kaputt")
	require.Contains(t, msg.TextBody, "Schöne Grüße")
}

func TestParseMessageIDs(t *testing.T) {
	ids := ParseMessageIDs("<a@x> <b@y>", "bare@z", "<a@x>")
	require.Equal(t, []string{"a@x", "b@y", "bare@z"}, ids)
	require.Empty(t, ParseMessageIDs("", "   "))
}

func TestNormalizeMessageID(t *testing.T) {
	require.Equal(t, "a@x", NormalizeMessageID("  <a@x> "))
	require.Equal(t, "a@x", NormalizeMessageID(`"a@x"`))
	require.Equal(t, "", NormalizeMessageID("  "))
}

func TestIsCharsetError(t *testing.T) {
	require.True(t, IsCharsetError(errParse("SEARCH BADCHARSET (US-ASCII)")))
	require.True(t, IsCharsetError(errParse("unsupported charset in search")))
	require.False(t, IsCharsetError(nil))
	require.False(t, IsCharsetError(errParse("connection reset")))
}

type errParse string

func (e errParse) Error() string { return string(e) }

func TestMessageDateFallback(t *testing.T) {
	fallback := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	msg := &Message{}
	require.Equal(t, fallback, msg.MessageDate(fallback))
	msg.Date = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, msg.Date, msg.MessageDate(fallback))
}

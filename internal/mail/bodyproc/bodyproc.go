// Package bodyproc extracts the best-available message body, strips quoted
// history on replies, and unwraps the @fwd forward-to-ticket convention.
package bodyproc

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/maildesk-io/maildesk-ce/internal/mail/connector"
)

// EmptyBodyPlaceholder replaces an entirely empty body.
const EmptyBodyPlaceholder = "[Empty message]"

// ExtractBody returns the preferred body: HTML when present, else plain text.
func ExtractBody(msg *connector.Message) (string, bool) {
	if strings.TrimSpace(msg.HTMLBody) != "" {
		return msg.HTMLBody, true
	}
	if strings.TrimSpace(msg.TextBody) != "" {
		return msg.TextBody, false
	}
	return EmptyBodyPlaceholder, false
}

// separator is one ordered pattern→cut rule. Keeping the rules as a list
// keeps the precedence auditable and extensible.
type separator struct {
	name    string
	pattern *regexp.Regexp
}

var replySeparators = []separator{
	{"quote-container", regexp.MustCompile(`(?i)<(?:div|blockquote)[^>]*(?:class="[^"]*(?:gmail_quote|yahoo_quoted|moz-cite-prefix)|type="cite")[^>]*>`)},
	{"original-message", regexp.MustCompile(`(?i)-{3,}\s*Original Message\s*-{3,}`)},
	{"wrote-line", regexp.MustCompile(`(?i)On [^\n<>]{1,120}wrote:`)},
	{"from-header", regexp.MustCompile(`(?i)(?:^|\n|<br ?/?>)\s*From:\s`)},
	{"underscore-rule", regexp.MustCompile(`_{10,}`)},
}

var bodyTagPattern = regexp.MustCompile(`(?is)<body[^>]*>(.*)</body>`)

// StripQuoted removes quoted prior content from reply bodies. Non-replies are
// returned unchanged regardless of separator-like substrings. The first
// separator that matches and leaves non-empty content before it wins. Plain
// text is matched through a <br/>-joined rendering so the separator rules see
// one uniform form; the line breaks are restored before returning.
func StripQuoted(body string, isHTML, isReply bool) string {
	if !isReply {
		return body
	}
	working := body
	converted := false
	if isHTML {
		if m := bodyTagPattern.FindStringSubmatch(working); len(m) == 2 {
			working = m[1]
		}
	} else {
		working = strings.ReplaceAll(working, "\r\n", "\n")
		working = strings.ReplaceAll(working, "\n", "<br/>")
		converted = true
	}
	for _, sep := range replySeparators {
		loc := sep.pattern.FindStringIndex(working)
		if loc == nil {
			continue
		}
		stripped := working[:loc[0]]
		if strings.TrimSpace(stripTags(stripped)) == "" {
			continue
		}
		if converted {
			stripped = strings.ReplaceAll(stripped, "<br/>", "\n")
		}
		return stripped
	}
	return body
}

// Forwarded carries the original external sender recovered from an @fwd body.
type Forwarded struct {
	Email string
	Name  string
	Body  string
}

var (
	forwardSubjectPattern = regexp.MustCompile(`^[A-Za-z]{1,6}(\[\d+\])?:`)
	fwdCommandPattern     = regexp.MustCompile(`(?i)^\s*@fwd\b[:.]?\s*`)
	fwdFromPattern        = regexp.MustCompile(`(?i)From:\s*([^<\n]*)<([^<>\s]+@[^<>\s]+)>`)
	fwdAnyEmailPattern    = regexp.MustCompile(`[<\["'\x60]([^\s<>\[\]"']+@[^\s<>\[\]"']+)[>\]"'\x60]`)
	tagPattern            = regexp.MustCompile(`(?s)<[^>]*>`)
	brPattern             = regexp.MustCompile(`(?i)<br ?/?>`)
)

// UnwrapForward detects the operator forward convention: a reply-prefixed
// subject whose body starts with the @fwd command token. It recovers the
// original external sender from the body and returns the body with the token
// removed. Callers only honor the result when the current sender is a known
// internal user; the message must also not itself be a reply.
func UnwrapForward(subject, body string) *Forwarded {
	if !forwardSubjectPattern.MatchString(strings.TrimSpace(subject)) {
		return nil
	}
	unwrapped := brPattern.ReplaceAllString(body, "\n")
	plain := strings.TrimSpace(stripTags(unwrapped))
	if !fwdCommandPattern.MatchString(plain) {
		return nil
	}

	// Angle-bracketed addresses survive only in the pre-stripped text, so the
	// sender is recovered from it before falling back to the plain rendering.
	fwd := &Forwarded{}
	for _, candidate := range []string{unwrapped, plain} {
		if m := fwdFromPattern.FindStringSubmatch(candidate); len(m) == 3 {
			fwd.Name = strings.Trim(strings.TrimSpace(stripTags(m[1])), `"' `)
			fwd.Email = strings.ToLower(m[2])
			break
		}
		if m := fwdAnyEmailPattern.FindStringSubmatch(candidate); len(m) == 2 {
			fwd.Email = strings.ToLower(m[1])
			break
		}
	}
	if fwd.Email == "" {
		return nil
	}
	fwd.Body = removeFwdToken(body)
	return fwd
}

var fwdTokenPattern = regexp.MustCompile(`(?i)@fwd\b[:.]?\s*`)

// removeFwdToken drops the first @fwd occurrence, wherever markup put it.
func removeFwdToken(body string) string {
	loc := fwdTokenPattern.FindStringIndex(body)
	if loc == nil {
		return body
	}
	return body[:loc[0]] + body[loc[1]:]
}

var sanitizePolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("style").OnElements("span", "div", "p")
	p.AllowImages()
	// cid references survive sanitization so attachment materialization can
	// rewrite them to retrieval URLs afterwards.
	p.AllowURLSchemes("cid", "http", "https", "mailto")
	return p
}()

// Sanitize scrubs the stored HTML body of scriptable content.
func Sanitize(body string, isHTML bool) string {
	if !isHTML {
		return body
	}
	return sanitizePolicy.Sanitize(body)
}

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

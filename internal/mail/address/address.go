// Package address normalizes heterogeneous mail-address representations into
// a canonical {email, display name} pair.
package address

import (
	stdmail "net/mail"
	"regexp"
	"strings"
)

// Address is the canonical form every other component consumes.
type Address struct {
	Email string
	Name  string
}

var angleAddrPattern = regexp.MustCompile(`<([^<>\s]+@[^<>\s]+)>`)
var bareAddrPattern = regexp.MustCompile(`[^\s<>"',;]+@[^\s<>"',;]+`)

// Parse normalizes a collection of raw address values. Accepted shapes are
// *net/mail.Address (or the value form), a map with mail|email and
// personal|name keys, and a bare "Display Name <addr>" string. Values that
// cannot be resolved to an email are dropped; Parse never fails.
func Parse(values ...any) []Address {
	var out []Address
	for _, value := range values {
		if addr, ok := parseOne(value); ok {
			out = append(out, addr)
		}
	}
	return out
}

// Emails returns just the email list, used for recipient membership checks.
func Emails(values ...any) []string {
	addrs := Parse(values...)
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Email)
	}
	return out
}

func parseOne(value any) (Address, bool) {
	switch v := value.(type) {
	case nil:
		return Address{}, false
	case Address:
		return normalize(v.Email, v.Name)
	case *Address:
		if v == nil {
			return Address{}, false
		}
		return normalize(v.Email, v.Name)
	case *stdmail.Address:
		if v == nil {
			return Address{}, false
		}
		return normalize(v.Address, v.Name)
	case stdmail.Address:
		return normalize(v.Address, v.Name)
	case map[string]string:
		return fromMap(func(key string) (string, bool) {
			s, ok := v[key]
			return s, ok
		})
	case map[string]any:
		return fromMap(func(key string) (string, bool) {
			raw, ok := v[key]
			if !ok {
				return "", false
			}
			s, ok := raw.(string)
			return s, ok
		})
	case string:
		return fromString(v)
	default:
		return Address{}, false
	}
}

func fromMap(get func(string) (string, bool)) (Address, bool) {
	email := ""
	for _, key := range []string{"mail", "email"} {
		if s, ok := get(key); ok && s != "" {
			email = s
			break
		}
	}
	name := ""
	for _, key := range []string{"personal", "name"} {
		if s, ok := get(key); ok && s != "" {
			name = s
			break
		}
	}
	if email == "" {
		return fromString(name)
	}
	return normalize(email, name)
}

func fromString(raw string) (Address, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{}, false
	}
	if parsed, err := stdmail.ParseAddress(raw); err == nil {
		return normalize(parsed.Address, parsed.Name)
	}
	// Regex fallback for strings net/mail rejects, e.g. unquoted names with commas.
	if m := angleAddrPattern.FindStringSubmatch(raw); len(m) == 2 {
		name := strings.TrimSpace(strings.Split(raw, "<")[0])
		name = strings.Trim(name, `"' `)
		return normalize(m[1], name)
	}
	if m := bareAddrPattern.FindString(raw); m != "" {
		return normalize(m, "")
	}
	return Address{}, false
}

func normalize(email, name string) (Address, bool) {
	email = strings.Trim(strings.TrimSpace(email), "<>")
	if email == "" || !strings.Contains(email, "@") {
		return Address{}, false
	}
	return Address{
		Email: strings.ToLower(email),
		Name:  strings.TrimSpace(name),
	}, true
}

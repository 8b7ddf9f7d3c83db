package address

import (
	stdmail "net/mail"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStructuredAddress(t *testing.T) {
	got := Parse(&stdmail.Address{Name: "Jane Doe", Address: "Jane@Example.COM"})
	require.Len(t, got, 1)
	require.Equal(t, "jane@example.com", got[0].Email)
	require.Equal(t, "Jane Doe", got[0].Name)
}

func TestParseMapShapes(t *testing.T) {
	got := Parse(
		map[string]string{"mail": "a@example.com", "personal": "A"},
		map[string]any{"email": "B@example.com", "name": "B"},
	)
	require.Len(t, got, 2)
	require.Equal(t, "a@example.com", got[0].Email)
	require.Equal(t, "A", got[0].Name)
	require.Equal(t, "b@example.com", got[1].Email)
	require.Equal(t, "B", got[1].Name)
}

func TestParseStringShapes(t *testing.T) {
	cases := map[string]Address{
		"Jane Doe <jane@example.com>":       {Email: "jane@example.com", Name: "Jane Doe"},
		"jane@example.com":                  {Email: "jane@example.com"},
		"<jane@example.com>":                {Email: "jane@example.com"},
		"Doe, Jane <jane@example.com>":      {Email: "jane@example.com", Name: "Doe, Jane"},
		`"Jane" <JANE@EXAMPLE.COM>`:         {Email: "jane@example.com", Name: "Jane"},
		"please contact jane@example.com !": {Email: "jane@example.com"},
	}
	for raw, want := range cases {
		got := Parse(raw)
		require.Len(t, got, 1, "input %q", raw)
		require.Equal(t, want.Email, got[0].Email, "input %q", raw)
		if want.Name != "" {
			require.Equal(t, want.Name, got[0].Name, "input %q", raw)
		}
	}
}

func TestParseDropsUnresolvable(t *testing.T) {
	got := Parse(nil, "", "undisclosed-recipients:;", "not an address", 42, map[string]string{"personal": "No Mail"})
	require.Empty(t, got)
}

func TestParseMapNameOnlyFallsBackToNameField(t *testing.T) {
	got := Parse(map[string]string{"personal": "Jane <jane@example.com>"})
	require.Len(t, got, 1)
	require.Equal(t, "jane@example.com", got[0].Email)
}

func TestEmails(t *testing.T) {
	emails := Emails("a@example.com", &stdmail.Address{Address: "b@example.com"}, "broken")
	require.Equal(t, []string{"a@example.com", "b@example.com"}, emails)
}

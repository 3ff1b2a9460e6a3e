package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultIdentity is used when no contact address is known.
const DefaultIdentity = "U"

// DeriveIdentity turns an email-like address into initials:
// "jane.doe@example.com" becomes "JD".
func DeriveIdentity(email string) string {
	if email == "" {
		return DefaultIdentity
	}
	local, _, _ := strings.Cut(email, "@")
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})

	var b strings.Builder
	for _, p := range parts {
		r, _ := utf8.DecodeRuneInString(p)
		b.WriteRune(unicode.ToUpper(r))
	}
	if b.Len() == 0 {
		return DefaultIdentity
	}
	return b.String()
}

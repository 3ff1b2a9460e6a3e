package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveIdentity(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"jane.doe@example.com", "JD"},
		{"bob_smith-jr@x.com", "BSJ"},
		{"", "U"},
		{"alice@x.com", "A"},
		{"no-at-sign", "NAS"},
		{"a..b@x.com", "AB"},
		{"@x.com", "U"},
		{"._-@x.com", "U"},
		{"émile.zola@x.fr", "ÉZ"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveIdentity(tt.email))
		})
	}
}

func TestDeriveIdentity_Deterministic(t *testing.T) {
	assert.Equal(t, DeriveIdentity("jane.doe@example.com"), DeriveIdentity("jane.doe@example.com"))
}

package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashEmail(t *testing.T) {
	h1 := HashEmail("asha@example.com")
	h2 := HashEmail("  Asha@Example.com ")
	h3 := HashEmail("ravi@example.com")

	assert.Equal(t, h1, h2, "normalized input should produce same hash")
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64, "SHA-256 hex should be 64 chars")
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "contact me at john@example.com please", "contact me at [EMAIL] please"},
		{"phone", "call me at (330) 333-2654", "call me at[PHONE]"},
		{"phone with plus", "my number is +919876543210", "my number is [PHONE]"},
		{"both", "email: a@b.com phone: 330-333-2654", "email: [EMAIL] phone:[PHONE]"},
		{"no pii", "order_Nf3kd8", "order_Nf3kd8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}

func TestScrubPayload(t *testing.T) {
	out := ScrubPayload([]byte(`{"notes":{"email":"a@b.com"},"items":["call 330-333-2654"],"amount":50000}`))
	assert.JSONEq(t, `{"notes":{"email":"[EMAIL]"},"items":["call[PHONE]"],"amount":50000}`, string(out))

	assert.Nil(t, ScrubPayload(nil))
	assert.Nil(t, ScrubPayload([]byte("not json")))
}

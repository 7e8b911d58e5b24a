package archive

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?[0-9]{0,3}[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
)

// HashEmail returns the hex-encoded SHA-256 hash of a normalized email address.
func HashEmail(email string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// ScrubPayload walks a JSON document and scrubs every string value.
// Payloads that are not valid JSON are dropped.
func ScrubPayload(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	out, err := json.Marshal(scrubValue(doc))
	if err != nil {
		return nil
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case string:
		return ScrubPII(t)
	case map[string]any:
		for k, inner := range t {
			t[k] = scrubValue(inner)
		}
		return t
	case []any:
		for i := range t {
			t[i] = scrubValue(t[i])
		}
		return t
	default:
		return v
	}
}

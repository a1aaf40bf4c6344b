package services

import (
	"log"
	"strings"
)

// TestNumberRegistry maps configured test phone numbers to their fixed
// expected codes. Numbers are keyed by bare digits (no +). A registered
// number never touches the delivery gateway or the external provider.
type TestNumberRegistry struct {
	codes map[string]string
}

// NewTestNumberRegistry parses a comma-separated list of phone=code
// pairs, e.g. "967779777358=123456,967774846214=123456". Malformed
// pairs are skipped.
func NewTestNumberRegistry(raw string) *TestNumberRegistry {
	codes := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		phone, code, ok := strings.Cut(pair, "=")
		phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
		code = strings.TrimSpace(code)
		if !ok || phone == "" || code == "" {
			log.Printf("WARN: skipping malformed test number entry %q", pair)
			continue
		}
		codes[phone] = code
	}
	return &TestNumberRegistry{codes: codes}
}

// Lookup returns the expected code for a bare-digit phone number.
func (r *TestNumberRegistry) Lookup(phone string) (string, bool) {
	code, ok := r.codes[strings.TrimPrefix(phone, "+")]
	return code, ok
}

// Size returns the number of configured test numbers.
func (r *TestNumberRegistry) Size() int {
	return len(r.codes)
}

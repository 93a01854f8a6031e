package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// randomSuffix returns n lowercase hex characters of random data
func randomSuffix(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > 12 {
		// the 13th character is the uuid version nibble
		n = 12
	}
	return hex[:n]
}

// NewRecordID returns a timestamp-prefixed id. Unique within a session,
// not cryptographically.
func NewRecordID(t time.Time) string {
	return fmt.Sprintf("%d-%s", t.UnixMilli(), randomSuffix(12))
}

// NewSessionID returns an identifier for one logger lifetime
func NewSessionID(t time.Time) string {
	return fmt.Sprintf("session_%d_%s", t.UnixMilli(), randomSuffix(9))
}

// GenerateID generates a random hex ID
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

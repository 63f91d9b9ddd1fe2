// Package idgen provides identifiers for gateway records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a random RFC 4122 UUID string. Used for trace ids supplied to
// callers that did not send one.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a record-type prefix
// (e.g. "rlog_", "rev_", "inc_", "apr_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// ValidTraceID reports whether a caller-supplied trace id is usable as-is:
// non-empty, at most 128 bytes, printable ASCII without spaces.
func ValidTraceID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

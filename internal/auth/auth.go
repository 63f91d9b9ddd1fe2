// Package auth authenticates gateway callers with static API keys.
//
// Keys come from configuration as a comma-separated list. An entry is either
// a bare secret or "name=secret"; the name identifies the caller in logs.
// Only SHA-256 digests of the secrets are held in memory.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoAPIKey      = errors.New("auth: API key required")
	ErrInvalidAPIKey = errors.New("auth: invalid API key")
)

// Caller is an authenticated client.
type Caller struct {
	Name string
}

type entry struct {
	name   string
	digest [sha256.Size]byte
}

// Keyring validates presented keys against the configured set.
type Keyring struct {
	entries []entry
}

// NewKeyring parses configured key entries. Duplicate secrets are rejected
// because they would make the caller name ambiguous.
func NewKeyring(entries []string) (*Keyring, error) {
	k := &Keyring{}
	seen := make(map[[sha256.Size]byte]bool, len(entries))
	for i, raw := range entries {
		name, secret, named := strings.Cut(strings.TrimSpace(raw), "=")
		if !named {
			secret, name = name, fmt.Sprintf("key-%d", i+1)
		}
		name, secret = strings.TrimSpace(name), strings.TrimSpace(secret)
		if secret == "" || name == "" {
			return nil, fmt.Errorf("auth: key entry %d is empty", i+1)
		}
		d := sha256.Sum256([]byte(secret))
		if seen[d] {
			return nil, fmt.Errorf("auth: key entry %d duplicates an earlier key", i+1)
		}
		seen[d] = true
		k.entries = append(k.entries, entry{name: name, digest: d})
	}
	return k, nil
}

// Enabled reports whether any key is configured. An empty keyring means
// authentication is off.
func (k *Keyring) Enabled() bool {
	return k != nil && len(k.entries) > 0
}

// Validate checks a raw key, as sent in a header, against every entry.
func (k *Keyring) Validate(raw string) (*Caller, error) {
	raw = strings.TrimSpace(raw)
	if raw == "Bearer" {
		raw = ""
	}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrNoAPIKey
	}
	d := sha256.Sum256([]byte(raw))

	var match *entry
	for i := range k.entries {
		if subtle.ConstantTimeCompare(d[:], k.entries[i].digest[:]) == 1 {
			match = &k.entries[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidAPIKey
	}
	return &Caller{Name: match.name}, nil
}

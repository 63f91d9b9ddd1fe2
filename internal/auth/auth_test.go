package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyring(t *testing.T) {
	k, err := NewKeyring([]string{"risk-console=alpha-secret", "beta-secret"})
	require.NoError(t, err)
	assert.True(t, k.Enabled())

	caller, err := k.Validate("alpha-secret")
	require.NoError(t, err)
	assert.Equal(t, "risk-console", caller.Name)

	caller, err = k.Validate("Bearer beta-secret")
	require.NoError(t, err)
	assert.Equal(t, "key-2", caller.Name)
}

func TestNewKeyring_Rejects(t *testing.T) {
	tests := map[string][]string{
		"empty secret":   {"console="},
		"empty name":     {"=secret"},
		"duplicate keys": {"a=same", "b=same"},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewKeyring(entries)
			assert.Error(t, err)
		})
	}
}

func TestKeyring_Validate(t *testing.T) {
	k, err := NewKeyring([]string{"ops=s3cret-value"})
	require.NoError(t, err)

	_, err = k.Validate("")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = k.Validate("Bearer ")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = k.Validate("s3cret-valuE")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = k.Validate("  Bearer s3cret-value ")
	assert.NoError(t, err)
}

func TestKeyring_Disabled(t *testing.T) {
	k, err := NewKeyring(nil)
	require.NoError(t, err)
	assert.False(t, k.Enabled())

	var nilRing *Keyring
	assert.False(t, nilRing.Enabled())
}

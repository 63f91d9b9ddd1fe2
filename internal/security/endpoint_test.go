package security

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticResolver map[string][]string

func (r staticResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if addrs, ok := r[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func TestEndpointValidator(t *testing.T) {
	resolver := staticResolver{
		"api.model.example": {"203.0.113.10"},
		"model.internal":    {"10.0.4.12"},
		"rebind.example":    {"203.0.113.11", "127.0.0.1"},
	}

	tests := []struct {
		name         string
		url          string
		allowPrivate bool
		ok           bool
	}{
		{"public https", "https://api.model.example/v1", false, true},
		{"public ip literal", "http://203.0.113.5:8000/chat", false, true},
		{"bad scheme", "ftp://api.model.example", false, false},
		{"no host", "https:///v1", false, false},
		{"localhost", "http://localhost:11434/v1", true, false},
		{"metadata", "http://metadata.google.internal/computeMetadata", true, false},
		{"loopback literal", "http://127.0.0.1/v1", true, false},
		{"link-local", "http://169.254.169.254/latest", true, false},
		{"private refused", "https://model.internal/v1", false, false},
		{"private allowed", "https://model.internal/v1", true, true},
		{"private literal allowed", "http://192.168.1.20/v1", true, true},
		{"any address resolving to loopback", "https://rebind.example/v1", true, false},
		{"unresolvable", "https://nowhere.example/v1", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &EndpointValidator{AllowPrivate: tt.allowPrivate, Resolver: resolver}
			err := v.Validate(context.Background(), tt.url)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrEndpointNotAllowed)
			}
		})
	}
}

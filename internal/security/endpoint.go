package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrEndpointNotAllowed is returned for model endpoint URLs the gateway
// refuses to call.
var ErrEndpointNotAllowed = errors.New("security: endpoint not allowed")

// Resolver looks up a host's addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// EndpointValidator vets configured model endpoint URLs before the gateway
// sends prompts to them. Loopback, link-local and metadata addresses are
// always refused; private ranges only when AllowPrivate is false.
type EndpointValidator struct {
	AllowPrivate bool
	Resolver     Resolver
}

// NewEndpointValidator creates a validator using the default resolver.
func NewEndpointValidator(allowPrivate bool) *EndpointValidator {
	return &EndpointValidator{AllowPrivate: allowPrivate, Resolver: net.DefaultResolver}
}

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// Validate checks both the literal host and every resolved address.
func (v *EndpointValidator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL", ErrEndpointNotAllowed)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: scheme must be http or https", ErrEndpointNotAllowed)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrEndpointNotAllowed)
	}
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: host %q", ErrEndpointNotAllowed, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return v.checkIP(ip)
	}

	addrs, err := v.Resolver.LookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s", ErrEndpointNotAllowed, host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := v.checkIP(ip); err != nil {
				return fmt.Errorf("host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func (v *EndpointValidator) checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback address", ErrEndpointNotAllowed)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address", ErrEndpointNotAllowed)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified address", ErrEndpointNotAllowed)
	case ip.IsPrivate() && !v.AllowPrivate:
		return fmt.Errorf("%w: private address", ErrEndpointNotAllowed)
	}
	return nil
}

// Package invoker calls the model backend for an admitted request. A
// system's configured endpoint is tried first; on any failure the invoker
// substitutes the default provider exactly once.
package invoker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mbd888/govgate/internal/circuitbreaker"
	"github.com/mbd888/govgate/internal/governance"
	"github.com/mbd888/govgate/internal/logging"
	"github.com/mbd888/govgate/internal/traces"
)

// Provider names reported in Reply.
const (
	ProviderConfigured = "configured"
	ProviderDefault    = "default"
)

// Reply is the model's answer.
type Reply struct {
	Content      string
	Provider     string
	Model        string
	UsedFallback bool
}

// CredentialResolver turns an EndpointConfig.CredentialRef into a secret.
type CredentialResolver interface {
	Resolve(ref string) (string, error)
}

// EnvCredentials resolves credential references as environment variable
// names.
type EnvCredentials struct{}

func (EnvCredentials) Resolve(ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrCredentials, ref)
	}
	return v, nil
}

// Config configures an Invoker.
type Config struct {
	Timeout      time.Duration
	DefaultModel string
	Fallback     Provider
	Credentials  CredentialResolver
	HTTPClient   *http.Client
	Breaker      *circuitbreaker.Breaker
	// CheckEndpoint vets a configured endpoint URL before any prompt is
	// sent to it. A refused endpoint falls back like any fatal failure.
	CheckEndpoint func(ctx context.Context, url string) error
}

// Invoker calls model providers.
type Invoker struct {
	timeout      time.Duration
	defaultModel string
	fallback     Provider
	creds        CredentialResolver
	httpClient   *http.Client
	breaker      *circuitbreaker.Breaker
	checkURL     func(ctx context.Context, url string) error
}

// New creates an invoker.
func New(cfg Config) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Credentials == nil {
		cfg.Credentials = EnvCredentials{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return &Invoker{
		timeout:      cfg.Timeout,
		defaultModel: cfg.DefaultModel,
		fallback:     cfg.Fallback,
		creds:        cfg.Credentials,
		httpClient:   cfg.HTTPClient,
		breaker:      cfg.Breaker,
		checkURL:     cfg.CheckEndpoint,
	}
}

// Invoke sends messages to the system's configured endpoint, falling back
// to the default provider once. Primary failures are logged and never
// surfaced; if both fail the result is an *UpstreamError.
//
// The caller decides cancellation semantics. The gateway passes a context
// detached from the client connection, so only the per-attempt timeout
// bounds the call.
func (inv *Invoker) Invoke(ctx context.Context, endpoint *governance.EndpointConfig, messages []Message) (*Reply, error) {
	var primaryErr error
	attemptedPrimary := endpoint != nil && endpoint.URL != ""

	if attemptedPrimary {
		key := endpoint.URL
		if inv.breaker.Allow(key) {
			reply, err := inv.callConfigured(ctx, endpoint, messages)
			if err == nil {
				inv.breaker.RecordSuccess(key)
				return reply, nil
			}
			inv.breaker.RecordFailure(key)
			primaryErr = err
			logging.L(ctx).Warn("configured model endpoint failed, using fallback",
				"endpoint", endpoint.URL, "error", err)
		} else {
			primaryErr = &TransientError{err: fmt.Errorf("circuit open for %s", endpoint.URL)}
			logging.L(ctx).Warn("configured model endpoint circuit open, using fallback", "endpoint", endpoint.URL)
		}
		invokerFallbacks.Inc()
	}

	if inv.fallback == nil {
		if primaryErr == nil {
			primaryErr = ErrNoProvider
		}
		return nil, &UpstreamError{Retryable: IsTransient(primaryErr), Primary: primaryErr}
	}

	reply, err := inv.call(ctx, inv.fallback, ProviderDefault, messages)
	if err != nil {
		return nil, &UpstreamError{Retryable: IsTransient(err), Primary: primaryErr, Fallback: err}
	}
	reply.UsedFallback = attemptedPrimary
	return reply, nil
}

func (inv *Invoker) callConfigured(ctx context.Context, ep *governance.EndpointConfig, messages []Message) (*Reply, error) {
	if inv.checkURL != nil {
		if err := inv.checkURL(ctx, ep.URL); err != nil {
			invokerAttempts.WithLabelValues(ProviderConfigured, "endpoint_refused").Inc()
			return nil, &FatalError{err: err}
		}
	}
	var apiKey string
	if ep.CredentialRef != "" {
		key, err := inv.creds.Resolve(ep.CredentialRef)
		if err != nil {
			invokerAttempts.WithLabelValues(ProviderConfigured, "credential_error").Inc()
			return nil, &FatalError{err: err}
		}
		apiKey = key
	}
	model := ep.Model
	if model == "" {
		model = inv.defaultModel
	}

	var p Provider
	if ep.Format == governance.FormatGeneric {
		p = NewGenericProvider(ProviderConfigured, ep.URL, apiKey, model, inv.httpClient)
	} else {
		p = NewOpenAIProvider(ProviderConfigured, ep.URL, apiKey, model, inv.httpClient)
	}
	return inv.call(ctx, p, ProviderConfigured, messages)
}

func (inv *Invoker) call(ctx context.Context, p Provider, label string, messages []Message) (*Reply, error) {
	ctx, span := traces.StartSpan(ctx, "invoker.call", traces.Provider(label))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	start := time.Now()
	content, model, err := p.Complete(ctx, messages)
	invokerLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		err = classify(err)
		traces.Fail(span, err)
		if IsTransient(err) {
			invokerAttempts.WithLabelValues(label, "transient_error").Inc()
		} else {
			invokerAttempts.WithLabelValues(label, "fatal_error").Inc()
		}
		return nil, err
	}
	invokerAttempts.WithLabelValues(label, "success").Inc()
	return &Reply{Content: content, Provider: p.Name(), Model: model}, nil
}

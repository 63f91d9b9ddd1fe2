package invoker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrNoProvider  = errors.New("invoker: no model provider configured")
	ErrEmptyReply  = errors.New("invoker: provider returned no content")
	ErrCredentials = errors.New("invoker: credential not found")
)

// TransientError marks a failure that may succeed on a later request.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// FatalError marks a failure that will not go away by retrying.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// UpstreamError is returned when every provider attempt failed.
type UpstreamError struct {
	// Retryable is true when the last failure was transient (timeout,
	// transport error, 429 or 5xx).
	Retryable bool
	Primary   error
	Fallback  error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Primary != nil && e.Fallback != nil:
		return fmt.Sprintf("invoker: primary failed (%v); fallback failed (%v)", e.Primary, e.Fallback)
	case e.Fallback != nil:
		return fmt.Sprintf("invoker: provider failed: %v", e.Fallback)
	default:
		return fmt.Sprintf("invoker: provider failed: %v", e.Primary)
	}
}

func (e *UpstreamError) Unwrap() []error {
	var out []error
	if e.Primary != nil {
		out = append(out, e.Primary)
	}
	if e.Fallback != nil {
		out = append(out, e.Fallback)
	}
	return out
}

// classifyStatus maps a non-2xx provider status to a typed error.
func classifyStatus(statusCode int, body string) error {
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	err := fmt.Errorf("model API error (status %d): %s", statusCode, body)

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout,
		statusCode >= 500:
		return &TransientError{err: err}
	default:
		return &FatalError{err: err}
	}
}

// classify turns a raw client error into a TransientError or FatalError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var t *TransientError
	var f *FatalError
	if errors.As(err, &t) || errors.As(err, &f) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return classifyStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}
	if errors.Is(err, ErrCredentials) || errors.Is(err, ErrEmptyReply) {
		return &FatalError{err: err}
	}
	// Timeouts and transport errors.
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{err: fmt.Errorf("model call timed out: %w", err)}
	}
	return &TransientError{err: err}
}

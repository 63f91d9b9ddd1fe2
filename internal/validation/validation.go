// Package validation checks inbound gateway requests before they reach the
// pipeline.
package validation

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize caps request bodies at 1 MiB.
const MaxRequestSize = 1 << 20

// MaxIDLength bounds system and trace identifiers.
const MaxIDLength = 128

var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// RequestSizeMiddleware rejects bodies larger than maxSize. A declared
// Content-Length over the cap is refused up front; otherwise the body is
// wrapped so reads fail once the cap is crossed (see IsTooLarge).
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, TooLargeBody(maxSize))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsTooLarge reports whether err came from reading past the size cap.
func IsTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// TooLargeBody is the 413 response body.
func TooLargeBody(maxSize int64) gin.H {
	return gin.H{
		"error":   "request_too_large",
		"message": "Request body exceeds the size limit",
		"limit":   maxSize,
	}
}

// IsValidIdentifier reports whether s is usable as a system or trace id.
func IsValidIdentifier(s string) bool {
	return len(s) <= MaxIDLength && identifierRegex.MatchString(s)
}

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects failed checks in rule order.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Rule checks one field; nil means it passed.
type Rule func() *FieldError

// Check runs every rule and returns the failures.
func Check(rules ...Rule) Errors {
	var errs Errors
	for _, r := range rules {
		if fe := r(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func Required(field, value string) Rule {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// Identifier passes empty values; pair it with Required when the field is
// mandatory.
func Identifier(field, value string) Rule {
	return func() *FieldError {
		if value != "" && !IsValidIdentifier(value) {
			return &FieldError{Field: field, Message: "must be an identifier of letters, digits, '.', '_', ':' or '-'"}
		}
		return nil
	}
}

func MaxLength(field, value string, max int) Rule {
	return func() *FieldError {
		if len(value) > max {
			return &FieldError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

func OneOf(field, value string, allowed ...string) Rule {
	return func() *FieldError {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &FieldError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

func NotEmpty(field string, n int) Rule {
	return func() *FieldError {
		if n == 0 {
			return &FieldError{Field: field, Message: "must not be empty"}
		}
		return nil
	}
}

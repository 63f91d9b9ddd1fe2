package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/govgate/internal/logging"
)

// ContextKeyCaller is the gin context key holding the *Caller.
const ContextKeyCaller = "authCaller"

// Middleware requires a valid key in "Authorization: Bearer <key>" or
// "X-API-Key". A keyring with no keys lets every request through.
func Middleware(k *Keyring) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !k.Enabled() {
			c.Next()
			return
		}

		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}
		caller, err := k.Validate(raw)
		if err != nil {
			msg := "Invalid API key."
			if errors.Is(err, ErrNoAPIKey) {
				msg = "API key required. Include 'Authorization: Bearer <key>' or 'X-API-Key'."
			}
			logging.L(c.Request.Context()).Warn("gateway auth rejected", "path", c.FullPath(), "reason", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": msg,
			})
			return
		}

		c.Set(ContextKeyCaller, caller)
		c.Next()
	}
}

// GetCaller returns the authenticated caller, if any.
func GetCaller(c *gin.Context) (*Caller, bool) {
	v, ok := c.Get(ContextKeyCaller)
	if !ok {
		return nil, false
	}
	caller, ok := v.(*Caller)
	return caller, ok
}

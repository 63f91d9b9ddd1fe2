package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T, keys ...string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	k, err := NewKeyring(keys)
	require.NoError(t, err)

	r := gin.New()
	v1 := r.Group("/v1", Middleware(k))
	v1.POST("/gateway/invoke", func(c *gin.Context) {
		name := ""
		if caller, ok := GetCaller(c); ok {
			name = caller.Name
		}
		c.JSON(http.StatusOK, gin.H{"caller": name})
	})
	return r
}

func call(r *gin.Engine, header, value string) (*httptest.ResponseRecorder, map[string]string) {
	req := httptest.NewRequest(http.MethodPost, "/v1/gateway/invoke", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestMiddleware(t *testing.T) {
	r := setupRouter(t, "console=console-key")

	tests := []struct {
		name   string
		header string
		value  string
		status int
		caller string
	}{
		{"bearer", "Authorization", "Bearer console-key", http.StatusOK, "console"},
		{"x-api-key", "X-API-Key", "console-key", http.StatusOK, "console"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong key", "Authorization", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := call(r, tt.header, tt.value)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.caller, body["caller"])
			} else {
				assert.Equal(t, "unauthorized", body["error"])
			}
		})
	}
}

func TestMiddleware_NoKeysConfigured(t *testing.T) {
	r := setupRouter(t)

	w, body := call(r, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", body["caller"])
}

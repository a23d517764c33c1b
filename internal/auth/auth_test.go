package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	keys := NewKeys("alpha", " ", "beta")
	require.True(t, keys.Enabled())
	assert.NoError(t, keys.Authenticate("alpha"))
	assert.NoError(t, keys.Authenticate("beta"))
	assert.ErrorIs(t, keys.Authenticate(""), ErrMissingKey)
	assert.ErrorIs(t, keys.Authenticate("gamma"), ErrInvalidKey)

	open := NewKeys()
	assert.False(t, open.Enabled())
	assert.NoError(t, open.Authenticate(""))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewKeys("secret").Middleware())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := map[string]struct {
		header, value string
		want          int
	}{
		"missing":       {"", "", http.StatusUnauthorized},
		"wrong bearer":  {"Authorization", "Bearer nope", http.StatusUnauthorized},
		"bearer":        {"Authorization", "bearer secret", http.StatusNoContent},
		"api key":       {HeaderAPIKey, "secret", http.StatusNoContent},
		"basic ignored": {"Authorization", "Basic secret", http.StatusUnauthorized},
	}
	for name, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, name)
	}
}

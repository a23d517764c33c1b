// Package auth guards the REST API with static API keys.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"Agent-Arena/pkg/logger"
)

// HeaderAPIKey is accepted alongside "Authorization: Bearer <key>".
const HeaderAPIKey = "X-API-Key"

var (
	// ErrMissingKey means the request carried no credentials.
	ErrMissingKey = errors.New("auth: missing api key")
	// ErrInvalidKey means the credentials matched no configured key.
	ErrInvalidKey = errors.New("auth: invalid api key")
)

// Keys is a set of accepted API keys. The zero set accepts everything.
type Keys struct {
	digests [][sha256.Size]byte
	audit   *slog.Logger
}

// NewKeys builds a key set, ignoring blank entries.
func NewKeys(keys ...string) *Keys {
	k := &Keys{audit: logger.Audit()}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		k.digests = append(k.digests, sha256.Sum256([]byte(key)))
	}
	return k
}

// Enabled reports whether any key is configured.
func (k *Keys) Enabled() bool { return k != nil && len(k.digests) > 0 }

// Authenticate checks the raw credential. Every configured key is compared so
// timing does not reveal which one matched.
func (k *Keys) Authenticate(key string) error {
	if !k.Enabled() {
		return nil
	}
	if key == "" {
		return ErrMissingKey
	}
	sum := sha256.Sum256([]byte(key))
	matched := 0
	for _, d := range k.digests {
		matched |= subtle.ConstantTimeCompare(sum[:], d[:])
	}
	if matched != 1 {
		return ErrInvalidKey
	}
	return nil
}

// Middleware rejects requests without a valid key and audits each denial.
func (k *Keys) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !k.Enabled() {
			c.Next()
			return
		}
		if err := k.Authenticate(credential(c.Request)); err != nil {
			k.audit.Warn("access denied",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"client", c.ClientIP(),
				"error", err.Error(),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": err.Error()})
			return
		}
		c.Next()
	}
}

func credential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Package auth guards the admin API with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator decides whether a bearer token may call guarded routes.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one operator token. An empty Token denies everyone.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" || token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests whose bearer token v does not accept. A nil v
// rejects every request.
func Middleware(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		err := ErrUnauthorized
		if ok && v != nil {
			err = v.Validate(token)
		}
		if err != nil {
			log.Warn().
				Str("path", c.FullPath()).
				Str("client_ip", c.ClientIP()).
				Bool("token_present", ok).
				Msg("admin request unauthorized")
			c.Header("WWW-Authenticate", `Bearer realm="chainstream"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

// Package auth provides minimal API key validation for the gateway.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the caller's key on gateway requests.
const HeaderAPIKey = "X-Api-Key"

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an API key.
type Validator interface {
	Validate(key string) error
}

// StaticKey is a simple validator for a single shared key.
// It is intended only for development and proofs of concept.
type StaticKey struct {
	Key string
}

func (s StaticKey) Validate(key string) error {
	if s.Key == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Key), []byte(key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(key string) error

func (f FuncValidator) Validate(key string) error {
	return f(key)
}

// Middleware rejects requests whose key fails validation. A nil validator
// disables the check so open deployments need no special casing.
func Middleware(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		if err := v.Validate(c.GetHeader(HeaderAPIKey)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

package controllers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"golang.org/x/crypto/bcrypt"
)

// AuthController checks the X-API-Key header against bcrypt hashes. Without any hash configured every
// request is let through.
type AuthController struct {
	keyHashes [][]byte
}

func NewAuthController(hashes []string) *AuthController {
	c := &AuthController{}
	for _, h := range hashes {
		c.keyHashes = append(c.keyHashes, []byte(h))
	}
	if len(c.keyHashes) == 0 {
		slog.Warn("No API key hashes configured, API authentication is disabled")
	}
	return c
}

// HashApiKey returns the bcrypt hash to configure for key.
func HashApiKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(c.keyHashes) == 0 {
			next(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		for i, h := range c.keyHashes {
			if bcrypt.CompareHashAndPassword(h, []byte(apiKey)) == nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyApiKeyName, fmt.Sprintf("key-%d", i))
				next(w, r.WithContext(ctx))
				return
			}
		}
		slog.WarnContext(r.Context(), "Rejected request with unknown API key", "path", r.URL.Path, "remote", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const AdminKeyHeader = "X-Admin-API-Key"

var ErrInvalidAdminKey = errors.New("invalid admin api key")

// AdminKey guards the admin api with a single static key. Only its bcrypt
// hash is kept in memory. An empty key disables the check.
type AdminKey struct {
	hash []byte
}

func NewAdminKey(key string) (*AdminKey, error) {
	if key == "" {
		slog.Warn("no admin api key configured, admin api is open")
		return &AdminKey{}, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), 10)
	if err != nil {
		return nil, fmt.Errorf("error hashing admin api key: %w", err)
	}
	return &AdminKey{hash: hash}, nil
}

func (k *AdminKey) Enabled() bool {
	return len(k.hash) > 0
}

func (k *AdminKey) Verify(key string) error {
	if !k.Enabled() {
		return nil
	}
	if key == "" {
		return ErrInvalidAdminKey
	}
	if err := bcrypt.CompareHashAndPassword(k.hash, []byte(key)); err != nil {
		return ErrInvalidAdminKey
	}
	return nil
}

func (k *AdminKey) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := k.Verify(r.Header.Get(AdminKeyHeader)); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), "admin")))
	})
}

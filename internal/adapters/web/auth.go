package web

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// APIKeys holds the bcrypt hashes of the accepted API keys. An empty
// key set leaves the API open, for local use.
type APIKeys struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

// NewAPIKeys creates an empty API key set.
func NewAPIKeys() *APIKeys {
	return &APIKeys{hashes: make(map[string][]byte)}
}

// Issue creates a new key and returns its id and secret. The secret is
// only available here, the store keeps its hash.
func (k *APIKeys) Issue() (id, secret string, err error) {
	id = uuid.NewString()
	secret = uuid.NewString()
	if err := k.add(id, secret); err != nil {
		return "", "", err
	}
	return id, secret, nil
}

// Add registers a pre-shared secret under a fresh key id.
func (k *APIKeys) Add(secret string) (string, error) {
	id := uuid.NewString()
	if err := k.add(id, secret); err != nil {
		return "", err
	}
	return id, nil
}

func (k *APIKeys) add(id, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash API key: %w", err)
	}
	k.mu.Lock()
	k.hashes[id] = hash
	k.mu.Unlock()
	return nil
}

// Revoke removes a key by id.
func (k *APIKeys) Revoke(id string) {
	k.mu.Lock()
	delete(k.hashes, id)
	k.mu.Unlock()
}

// Empty tells if no keys are configured.
func (k *APIKeys) Empty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.hashes) == 0
}

// Verify checks a presented secret against the stored hashes.
func (k *APIKeys) Verify(secret string) bool {
	if secret == "" {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, hash := range k.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil {
			return true
		}
	}
	return false
}

// AuthMiddleware ensures the request carries a valid API key, from the
// X-API-Key header or a bearer token. An empty key set lets every
// request through.
func AuthMiddleware(keys *APIKeys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keys.Empty() {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get("X-API-Key")
			if token == "" {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					token = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}
			if !keys.Verify(token) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

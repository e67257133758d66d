// Package secrets caches webhook signing secrets in memory. Secrets are
// loaded once from configuration; resolution never touches the network.
package secrets

import (
	"sync"

	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/signature"
)

// ProviderAuth is one provider's webhook authentication configuration.
type ProviderAuth struct {
	Scheme signature.Scheme
	// Secret is the service-level shared secret.
	Secret string
	// UserSecrets override the service secret per user id.
	UserSecrets map[string]string
}

// Store resolves signing secrets and schemes per provider. It is built once
// at process start and passed by injection; Reload replaces the whole table
// atomically, Invalidate empties it (fail closed until reloaded).
type Store struct {
	mu        sync.RWMutex
	providers map[event.Provider]ProviderAuth
}

// NewStore builds a store from provider auth entries.
func NewStore(providers map[event.Provider]ProviderAuth) *Store {
	s := &Store{}
	s.Reload(providers)
	return s
}

// Reload atomically replaces the secret table.
func (s *Store) Reload(providers map[event.Provider]ProviderAuth) {
	copied := make(map[event.Provider]ProviderAuth, len(providers))
	for p, auth := range providers {
		users := make(map[string]string, len(auth.UserSecrets))
		for id, sec := range auth.UserSecrets {
			users[id] = sec
		}
		auth.UserSecrets = users
		copied[p] = auth
	}
	s.mu.Lock()
	s.providers = copied
	s.mu.Unlock()
}

// Invalidate clears every cached entry.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.providers = map[event.Provider]ProviderAuth{}
	s.mu.Unlock()
}

// Scheme returns the configured signature scheme for a provider. Unknown
// providers fail closed with SchemeHex (a missing secret then rejects).
func (s *Store) Scheme(provider event.Provider) signature.Scheme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	auth, ok := s.providers[provider]
	if !ok || auth.Scheme == "" {
		return signature.SchemeHex
	}
	return auth.Scheme
}

// ServiceSecret returns the provider's shared secret.
func (s *Store) ServiceSecret(provider event.Provider) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	auth, ok := s.providers[provider]
	if !ok || auth.Secret == "" {
		return "", false
	}
	return auth.Secret, true
}

// UserSecret returns the per-user secret, falling back to the service-level
// secret when the user has none.
func (s *Store) UserSecret(provider event.Provider, userID string) (string, bool) {
	s.mu.RLock()
	auth, ok := s.providers[provider]
	s.mu.RUnlock()
	if ok {
		if sec, found := auth.UserSecrets[userID]; found && sec != "" {
			return sec, true
		}
	}
	return s.ServiceSecret(provider)
}

package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/area/kvstore"
)

// ErrInvalidState is returned for unknown, expired or already used states.
var ErrInvalidState = errors.New("token: invalid oauth state")

const statePrefix = "oauth_state:"

// StateStore issues single-use OAuth2 state values bound to a user and
// provider, for the authorization-code handshake.
type StateStore struct {
	kv  kvstore.Store
	ttl time.Duration
}

// NewStateStore creates a StateStore. ttl <= 0 defaults to 10 minutes.
func NewStateStore(kv kvstore.Store, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{kv: kv, ttl: ttl}
}

// Issue returns a fresh state value.
func (s *StateStore) Issue(ctx context.Context, userID, provider string) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: state entropy: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	if err := s.kv.Set(ctx, statePrefix+state, userID+"\n"+provider, s.ttl); err != nil {
		return "", err
	}
	return state, nil
}

// Consume validates and burns a state value.
func (s *StateStore) Consume(ctx context.Context, state string) (userID, provider string, err error) {
	if state == "" {
		return "", "", ErrInvalidState
	}
	v, ok, err := s.kv.Take(ctx, statePrefix+state)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", ErrInvalidState
	}
	userID, provider, found := strings.Cut(v, "\n")
	if !found {
		return "", "", ErrInvalidState
	}
	return userID, provider, nil
}

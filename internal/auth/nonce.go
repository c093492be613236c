package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkgate.org/internal/ids"
)

const (
	// DefaultNonceTTL bounds how long an issued state value stays verifiable.
	DefaultNonceTTL = 10 * time.Minute
	nonceBytes      = 64
)

// Nonces issues and verifies single-use state values for the authorization redirect.
type Nonces struct {
	store NonceStore
	ttl   time.Duration
	now   func() time.Time
}

// NonceOption customises Nonces.
type NonceOption func(*Nonces)

// WithNonceTTL overrides the expiry window. Non-positive values disable expiry.
func WithNonceTTL(ttl time.Duration) NonceOption {
	return func(n *Nonces) { n.ttl = ttl }
}

// WithNonceClock replaces the time source, mostly for tests.
func WithNonceClock(now func() time.Time) NonceOption {
	return func(n *Nonces) {
		if now != nil {
			n.now = now
		}
	}
}

// NewNonces wires the nonce service on top of a backend.
func NewNonces(store NonceStore, opts ...NonceOption) *Nonces {
	n := &Nonces{
		store: store,
		ttl:   DefaultNonceTTL,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// TTL reports the configured expiry window.
func (n *Nonces) TTL() time.Duration { return n.ttl }

// Issue generates and persists a fresh state value.
func (n *Nonces) Issue(ctx context.Context) (string, error) {
	value, err := ids.SecureHex(nonceBytes)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	rec := Nonce{ID: ids.New(), Value: value, CreatedAt: n.now()}
	if err := n.store.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("store nonce: %w", err)
	}
	return value, nil
}

// VerifyAndConsume deletes candidate if present and reports whether it was a live nonce.
// Unknown, empty and expired candidates yield false without an error; only storage
// failures are returned.
func (n *Nonces) VerifyAndConsume(ctx context.Context, candidate string) (bool, error) {
	if candidate == "" {
		return false, nil
	}
	created, err := n.store.Consume(ctx, candidate)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume nonce: %w", err)
	}
	if n.ttl > 0 && n.now().Sub(created) > n.ttl {
		return false, nil
	}
	return true, nil
}

// Prune removes nonces that outlived the expiry window.
func (n *Nonces) Prune(ctx context.Context) (int64, error) {
	if n.ttl <= 0 {
		return 0, nil
	}
	removed, err := n.store.DeleteBefore(ctx, n.now().Add(-n.ttl))
	if err != nil {
		return 0, fmt.Errorf("prune nonces: %w", err)
	}
	return removed, nil
}

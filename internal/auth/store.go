package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the federation subsystem.
type Store interface {
	Nonces(ctx context.Context) NonceStore
	Fences(ctx context.Context) FenceStore
	Links(ctx context.Context) LinkStore
	Accounts(ctx context.Context) AccountStore
}

// NonceStore persists one-time state values.
type NonceStore interface {
	Insert(ctx context.Context, n Nonce) error
	// Consume atomically deletes the nonce with exactly the given value and reports
	// when it was created. Missing values return ErrNotFound.
	Consume(ctx context.Context, value string) (time.Time, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// FenceStore persists per-user session fence records. Touch operations upsert and never
// move a timestamp backwards.
type FenceStore interface {
	Find(ctx context.Context, userID string) (FenceRecord, error)
	TouchLogin(ctx context.Context, userID string, at time.Time) error
	TouchLogout(ctx context.Context, userID string, at time.Time) error
	Delete(ctx context.Context, userID string) error
}

// LinkStore manages the one-to-one association between local users and remote identities.
type LinkStore interface {
	UserForRemote(ctx context.Context, remoteID string) (string, error)
	// RemoteForUser returns "" for an existing user without a link.
	RemoteForUser(ctx context.Context, userID string) (string, error)
	Link(ctx context.Context, userID, remoteID string) error
	Unlink(ctx context.Context, userID string) error
}

// AccountStore manages local accounts.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByLogin(ctx context.Context, login string) (*Account, error)
}

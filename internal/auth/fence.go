package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Fence keeps the per-user remote login/logout instants and decides whether a local
// session has been superseded by a later remote logout.
type Fence struct {
	store FenceStore
	now   func() time.Time
}

// NewFence builds a fence over store. A nil clock defaults to time.Now.
func NewFence(store FenceStore, now func() time.Time) *Fence {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Fence{store: store, now: now}
}

// RecordLogin stamps the current time as the user's latest login.
func (f *Fence) RecordLogin(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	if err := f.store.TouchLogin(ctx, userID, f.now()); err != nil {
		return fmt.Errorf("record login for %s: %w", userID, err)
	}
	return nil
}

// RecordLogout stamps the current time as the user's latest remote logout.
func (f *Fence) RecordLogout(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	if err := f.store.TouchLogout(ctx, userID, f.now()); err != nil {
		return fmt.Errorf("record logout for %s: %w", userID, err)
	}
	return nil
}

// IsForciblyLoggedOut is true only when a record exists whose logout is strictly newer
// than its login.
func (f *Fence) IsForciblyLoggedOut(ctx context.Context, userID string) (bool, error) {
	rec, ok, err := f.find(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	return rec.LoggedOutAfterLogin(), nil
}

// IsEnrolled reports whether the user ever authenticated remotely.
func (f *Fence) IsEnrolled(ctx context.Context, userID string) (bool, error) {
	_, ok, err := f.find(ctx, userID)
	return ok, err
}

// Clear forgets the user's fence record, un-enrolling them.
func (f *Fence) Clear(ctx context.Context, userID string) error {
	if err := f.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("clear fence for %s: %w", userID, err)
	}
	return nil
}

func (f *Fence) find(ctx context.Context, userID string) (FenceRecord, bool, error) {
	rec, err := f.store.Find(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return FenceRecord{}, false, nil
	case err != nil:
		return FenceRecord{}, false, fmt.Errorf("load fence for %s: %w", userID, err)
	}
	return rec, true, nil
}

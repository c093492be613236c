package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Authenticate checks login/password against the account directory. Unknown logins and
// wrong passwords both yield ErrInvalidCredentials.
func Authenticate(ctx context.Context, accounts AccountStore, login, password string) (*Account, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	acct, err := accounts.FindByLogin(ctx, login)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		return nil, err
	}
	return acct, nil
}

// CreateAccount hashes password and stores a new local account.
func CreateAccount(ctx context.Context, accounts AccountStore, login, password string) (*Account, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	acct := &Account{Login: login, PasswordHash: hash}
	if err := accounts.Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

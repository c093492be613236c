package auth

import "time"

// Nonce is a single-use anti-forgery state value bound to one authorization attempt.
type Nonce struct {
	ID        string
	Value     string
	CreatedAt time.Time
}

// FenceRecord holds the last known remote login and logout instants of a local user.
// Nil means the event never happened.
type FenceRecord struct {
	UserID        string
	LastLoggedIn  *time.Time
	LastLoggedOut *time.Time
}

// LoggedOutAfterLogin reports whether the logout instant is strictly later than the login
// instant, comparing at second precision. A missing login counts as older than any logout.
func (r FenceRecord) LoggedOutAfterLogin() bool {
	if r.LastLoggedOut == nil {
		return false
	}
	if r.LastLoggedIn == nil {
		return true
	}
	return r.LastLoggedOut.Unix() > r.LastLoggedIn.Unix()
}

// Account is a local user of the relying site.
type Account struct {
	ID           string
	Login        string
	PasswordHash string
	// RemoteID is the bound remote identity, empty when unlinked.
	RemoteID  string
	CreatedAt time.Time
}

// Linked reports whether the account carries a remote identity.
func (a Account) Linked() bool {
	return a.RemoteID != ""
}

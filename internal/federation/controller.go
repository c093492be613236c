// Package federation drives the remote sign-in flow and keeps local sessions fenced
// against logouts reported by the identity provider.
package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"linkgate.org/internal/audit"
	"linkgate.org/internal/auth"
	"linkgate.org/internal/obs"
	"linkgate.org/internal/provider"
)

// NonceService issues and consumes anti-forgery state values.
type NonceService interface {
	Issue(ctx context.Context) (string, error)
	VerifyAndConsume(ctx context.Context, candidate string) (bool, error)
}

// SessionFence records remote login/logout instants per local user.
type SessionFence interface {
	RecordLogin(ctx context.Context, userID string) error
	RecordLogout(ctx context.Context, userID string) error
	IsForciblyLoggedOut(ctx context.Context, userID string) (bool, error)
	IsEnrolled(ctx context.Context, userID string) (bool, error)
	Clear(ctx context.Context, userID string) error
}

// IdentityProvider performs the outbound legs of the authorization-code flow.
type IdentityProvider interface {
	AuthorizationURL(state, clientToken, sharingToken string) string
	ExchangeCode(ctx context.Context, code string) (provider.Token, error)
	FetchIdentity(ctx context.Context, accessToken string) (provider.Identity, error)
}

// LoginResult describes a processed callback. UserID is set for LINKED, RemoteID for
// UNLINKED_NEEDS_CONNECT and Err for TOKEN_ERROR and IDENTITY_ERROR.
type LoginResult struct {
	Outcome  Outcome
	UserID   string
	RemoteID string
	Err      *provider.Error
}

// LinkResult describes an account-connect attempt.
type LinkResult struct {
	Outcome LinkOutcome
	UserID  string
}

// Controller orchestrates login initiation, callbacks and account linking.
type Controller struct {
	nonces   NonceService
	fence    SessionFence
	idp      IdentityProvider
	links    auth.LinkStore
	accounts auth.AccountStore
}

// NewController wires the login flow to its stores and provider.
func NewController(nonces NonceService, fence SessionFence, idp IdentityProvider, links auth.LinkStore, accounts auth.AccountStore) *Controller {
	return &Controller{nonces: nonces, fence: fence, idp: idp, links: links, accounts: accounts}
}

// InitiateLogin issues a state value and returns the provider redirect.
func (c *Controller) InitiateLogin(ctx context.Context, clientToken, sharingToken string) (string, error) {
	state, err := c.nonces.Issue(ctx)
	if err != nil {
		return "", fmt.Errorf("initiate login: %w", err)
	}
	return c.idp.AuthorizationURL(state, strings.TrimSpace(clientToken), strings.TrimSpace(sharingToken)), nil
}

// HandleCallback verifies state, exchanges code and resolves the local account. Only
// storage failures are returned as errors.
func (c *Controller) HandleCallback(ctx context.Context, state, code string) (LoginResult, error) {
	res, err := c.handleCallback(ctx, state, code)
	if err == nil {
		obs.ObserveCallback(string(res.Outcome))
	}
	return res, err
}

func (c *Controller) handleCallback(ctx context.Context, state, code string) (LoginResult, error) {
	ok, err := c.nonces.VerifyAndConsume(ctx, state)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify state: %w", err)
	}
	if !ok {
		return LoginResult{Outcome: OutcomeStateInvalid}, nil
	}

	tok, err := c.idp.ExchangeCode(ctx, code)
	if err != nil {
		perr := asProviderError("exchange code", err)
		obs.LoggerFrom(ctx).Warn("token exchange failed", zap.String("kind", string(perr.Kind)), zap.String("code", perr.Code))
		return LoginResult{Outcome: OutcomeTokenError, Err: perr}, nil
	}

	ident, err := c.idp.FetchIdentity(ctx, tok.AccessToken)
	if err != nil {
		perr := asProviderError("fetch identity", err)
		obs.LoggerFrom(ctx).Warn("identity fetch failed", zap.String("kind", string(perr.Kind)), zap.String("code", perr.Code))
		return LoginResult{Outcome: OutcomeIdentityError, Err: perr}, nil
	}

	userID, err := c.links.UserForRemote(ctx, ident.RemoteID)
	if errors.Is(err, auth.ErrNotFound) {
		return LoginResult{Outcome: OutcomeUnlinkedNeedsConnect, RemoteID: ident.RemoteID}, nil
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup link: %w", err)
	}
	if err := c.fence.RecordLogin(ctx, userID); err != nil {
		return LoginResult{}, err
	}
	_ = audit.LogEvent(ctx, audit.EventFederationLogin, map[string]any{"local_user_id": userID, "remote_id": ident.RemoteID})
	return LoginResult{Outcome: OutcomeLinked, UserID: userID, RemoteID: ident.RemoteID}, nil
}

// ConnectAccount binds remoteID to the local account identified by login/password.
func (c *Controller) ConnectAccount(ctx context.Context, login, password, remoteID string) (LinkResult, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return LinkResult{}, fmt.Errorf("%w: remote identity is required", auth.ErrInvalidInput)
	}
	acct, err := auth.Authenticate(ctx, c.accounts, login, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return LinkResult{Outcome: LinkInvalidCredentials}, nil
	}
	if err != nil {
		return LinkResult{}, err
	}

	switch err := c.links.Link(ctx, acct.ID, remoteID); {
	case errors.Is(err, auth.ErrAlreadyLinked), errors.Is(err, auth.ErrRemoteIdentityTaken):
		return LinkResult{Outcome: LinkAlreadyLinked, UserID: acct.ID}, nil
	case err != nil:
		return LinkResult{}, fmt.Errorf("link account: %w", err)
	}
	if err := c.fence.RecordLogin(ctx, acct.ID); err != nil {
		return LinkResult{}, err
	}
	_ = audit.LogEvent(ctx, audit.EventFederationLink, map[string]any{"local_user_id": acct.ID, "remote_id": remoteID})
	return LinkResult{Outcome: LinkLinked, UserID: acct.ID}, nil
}

// CheckPasswordLogin decides whether a password login may stand. Users who never signed
// in remotely are always allowed.
func (c *Controller) CheckPasswordLogin(ctx context.Context, userID string, passwordsAllowed bool) (PasswordDecision, error) {
	enrolled, err := c.fence.IsEnrolled(ctx, userID)
	if err != nil {
		return "", err
	}
	if !enrolled {
		return PasswordAllow, nil
	}
	if !passwordsAllowed {
		_ = audit.LogEvent(ctx, audit.EventPasswordDenied, map[string]any{"local_user_id": userID})
		return PasswordDenyMustUseRemote, nil
	}
	if err := c.fence.RecordLogin(ctx, userID); err != nil {
		return "", err
	}
	return PasswordAllow, nil
}

// CheckActiveSession reports FORCE_LOGOUT when the provider logged the user out after
// their last login.
func (c *Controller) CheckActiveSession(ctx context.Context, userID string) (SessionDecision, error) {
	forced, err := c.fence.IsForciblyLoggedOut(ctx, userID)
	if err != nil {
		return "", err
	}
	if forced {
		obs.ObserveForcedLogout()
		_ = audit.LogEvent(ctx, audit.EventForcedLogout, map[string]any{"local_user_id": userID})
		return SessionForceLogout, nil
	}
	return SessionValid, nil
}

func asProviderError(op string, err error) *provider.Error {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr
	}
	return &provider.Error{Kind: provider.ErrorKindNetwork, Op: op, Message: err.Error(), Err: err}
}

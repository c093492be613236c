package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sessionIssuer   = "linkgate"
	audienceSession = "session"
	audienceLink    = "pending-link"
	// PendingLinkTTL bounds how long a remote identity waits for account connection.
	PendingLinkTTL = 10 * time.Minute
)

// SessionClaims are carried by the local session cookie.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// Sessions signs and validates HS256 session tokens for local users.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions validates the signing secret and lifetime.
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session secret is not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be greater than zero")
	}
	return &Sessions{
		secret: []byte(secret),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// TTL returns the session lifetime.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Issue signs a session for userID and returns the token with its expiry.
func (s *Sessions) Issue(userID string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	return s.sign(userID, audienceSession, s.ttl)
}

// Parse verifies the signature and claims of a session token.
func (s *Sessions) Parse(token string) (*SessionClaims, error) {
	return s.parse(token, audienceSession)
}

// IssueLink signs the remote identity that still has to be connected to a local account.
func (s *Sessions) IssueLink(remoteID string) (string, time.Time, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return "", time.Time{}, errors.New("remoteID is required")
	}
	return s.sign(remoteID, audienceLink, PendingLinkTTL)
}

// ParseLink returns the remote identity carried by an IssueLink token.
func (s *Sessions) ParseLink(token string) (string, error) {
	claims, err := s.parse(token, audienceLink)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *Sessions) sign(subject, audience string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (s *Sessions) parse(token, audience string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithAudience(audience))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := s.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Sessions) validateClaims(claims *SessionClaims) error {
	if claims.Issuer != sessionIssuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(s.now().Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	return nil
}

package broadcast

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrForbidden   = errors.New("broadcast: channel does not belong to the session user")
	ErrInvalidAuth = errors.New("broadcast: invalid channel authorization")
)

const channelAuthIssuer = "linkgate-channels"

type channelClaims struct {
	Channel  string `json:"channel"`
	SocketID string `json:"socket_id"`
	jwt.RegisteredClaims
}

// Authorizer signs and checks private channel subscriptions.
type Authorizer struct {
	key    string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthorizer(key, secret string, ttl time.Duration) (*Authorizer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("broadcast: channel auth secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authorizer{
		key:    key,
		secret: []byte(secret),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Authorize returns "<key>:<signature>" when channel belongs to userID.
func (a *Authorizer) Authorize(userID, socketID, channel string) (string, error) {
	owner, ok := ChannelUserID(channel)
	if !ok || userID == "" || owner != userID {
		return "", ErrForbidden
	}
	now := a.now()
	claims := channelClaims{
		Channel:  channel,
		SocketID: socketID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    channelAuthIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	sig, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign channel auth: %w", err)
	}
	return a.key + ":" + sig, nil
}

// Verify checks an Authorize result against channel and returns the subscribing user.
func (a *Authorizer) Verify(authValue, channel string) (string, error) {
	key, sig, ok := strings.Cut(authValue, ":")
	if !ok || key != a.key || sig == "" {
		return "", ErrInvalidAuth
	}
	parsed, err := jwt.ParseWithClaims(sig, &channelClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidAuth
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithIssuer(channelAuthIssuer))
	if err != nil {
		return "", ErrInvalidAuth
	}
	claims, ok := parsed.Claims.(*channelClaims)
	if !ok || !parsed.Valid || claims.Channel != channel {
		return "", ErrInvalidAuth
	}
	return claims.Subject, nil
}

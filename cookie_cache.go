package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// cookieCache signs short lived snapshots of a session and its user so
// that reads can skip storage until the snapshot expires.
type cookieCache struct {
	secret []byte
	maxAge time.Duration
	clock  clockwork.Clock
}

type cacheClaims struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
	jwt.RegisteredClaims
}

var errCacheInvalid = errors.New("cookie cache invalid")

func (c *cookieCache) issue(sw *SessionWithUser) (string, error) {
	now := c.clock.Now()
	claims := cacheClaims{
		Session: sw.Session,
		User:    sw.User,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign cookie cache: %w", err)
	}
	return signed, nil
}

// parse verifies a snapshot. Forged or expired snapshots, and snapshots of
// sessions that have since expired, are rejected.
func (c *cookieCache) parse(value string) (*SessionWithUser, error) {
	var claims cacheClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCacheInvalid, err)
	}
	if claims.Session == nil || claims.User == nil {
		return nil, fmt.Errorf("%w: incomplete snapshot", errCacheInvalid)
	}
	if claims.Session.Expired(c.clock.Now()) {
		return nil, fmt.Errorf("%w: session expired", errCacheInvalid)
	}
	return &SessionWithUser{Session: claims.Session, User: claims.User}, nil
}

// Package token inspects the bearer credential the hub presents to the
// palette server. The server owns signature verification; the hub only peeks
// at the claims to warn before dialing with a dead token.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoExpiry = errors.New("token has no expiry claim")

// Inspect parses a JWT without verifying it and returns the subject and
// expiry.
func Inspect(raw string) (subject string, expiresAt time.Time, err error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err = parser.ParseUnverified(raw, claims); err != nil {
		return "", time.Time{}, err
	}
	subject, _ = claims.GetSubject()
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return subject, time.Time{}, ErrNoExpiry
	}
	return subject, exp.Time, nil
}

// Expired reports whether the token's expiry has passed. Tokens without an
// expiry claim, or that cannot be parsed, count as expired.
func Expired(raw string, now time.Time) bool {
	_, exp, err := Inspect(raw)
	if err != nil {
		return true
	}
	return now.After(exp)
}

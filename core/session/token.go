package session

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
)

var ErrNoExpiry = errors.New("token has no expiry")

// TokenExpiry reads the `exp` claim of a bearer token without verifying its signature.
// The backend stays the only judge of a token's validity; this is display and cookie sizing only.
func TokenExpiry(token string) (time.Time, error) {
	claims := new(jwt.StandardClaims)
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return time.Time{}, errors.Wrap(err, "parsing token")
	}
	if claims.ExpiresAt == 0 {
		return time.Time{}, ErrNoExpiry
	}
	return time.Unix(claims.ExpiresAt, 0).UTC(), nil
}

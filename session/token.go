package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// claim checks.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the payload of a session token.
type Claims struct {
	Name      string `json:"name"`
	Household string `json:"household"`
	jwt.RegisteredClaims
}

// IssueToken signs a session token for id. A zero ttl issues a token without
// expiry.
func IssueToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("session secret is empty")
	}
	if id.UserID == "" || id.Household == "" {
		return "", fmt.Errorf("%w: user id and household are required", ErrInvalidToken)
	}

	now := time.Now()
	claims := Claims{
		Name:      id.Name,
		Household: id.Household,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies token and returns its identity and expiry. The expiry
// is zero for tokens that never expire.
func ParseToken(secret []byte, token string) (*Identity, time.Time, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" || claims.Household == "" {
		return nil, time.Time{}, fmt.Errorf("%w: missing subject or household", ErrInvalidToken)
	}

	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return &Identity{
		UserID:    claims.Subject,
		Name:      claims.Name,
		Household: claims.Household,
	}, expires, nil
}

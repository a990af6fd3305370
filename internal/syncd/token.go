package syncd

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens mints and verifies the bearer tokens replicas present on every
// request. HMAC with a shared secret; the subject claim carries the
// replica's origin id.
type Tokens struct {
	secret []byte
}

// NewTokens creates a token service from the shared secret.
func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Mint signs a token for the given replica identity.
func (t *Tokens) Mint(origin string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": origin,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(t.secret)
}

// Verify checks the token and returns the replica identity it was
// minted for.
func (t *Tokens) Verify(tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

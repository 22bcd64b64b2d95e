// Package auth validates the signed bearer tokens clients present during the
// WebSocket handshake and extracts the user identity embedded in them.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no credential was presented at all.
	ErrMissingToken = errors.New("no token provided")
	// ErrInvalidToken is returned when the credential is malformed, expired,
	// or fails signature verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier validates HS256-signed tokens against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks signature and expiry of the raw token and returns the subject
// claim as an opaque string identifier. The identifier is not normalized;
// two tokens with byte-different subjects name different users.
func (v *Verifier) Verify(rawToken string) (string, error) {
	if rawToken == "" {
		return "", ErrMissingToken
	}

	token, err := jwt.Parse(rawToken, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"]
	if !ok || sub == nil {
		return "", ErrInvalidToken
	}

	userID := fmt.Sprint(sub)
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

package editor

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token error taxonomy, mapped to 401/403 on the HTTP surface.
var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// accessClaims bind a proxy token to one storage path and one actor.
type accessClaims struct {
	jwt.RegisteredClaims
	Path string `json:"path"`
}

// mintAccessToken signs a token the external engine presents back to the
// proxy endpoint. The path binding prevents one session's token from reading
// another document.
func mintAccessToken(secret []byte, path, actor string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Path: path,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// verifyAccessToken returns the storage path bound into a token.
func verifyAccessToken(secret []byte, raw string) (string, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Path == "" {
		return "", fmt.Errorf("%w: missing path claim", ErrTokenInvalid)
	}
	return claims.Path, nil
}

// signPayload signs an arbitrary claim set, used for the session descriptor
// the external engine verifies.
func signPayload(secret []byte, payload map[string]interface{}) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(payload)).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session payload: %w", err)
	}
	return signed, nil
}

// verifyPayloadToken checks an HS256 signature over an opaque claim set.
func verifyPayloadToken(secret []byte, raw string) error {
	_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return nil
}

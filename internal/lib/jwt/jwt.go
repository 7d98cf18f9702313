package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token expired")
)

const typeAccess = "access"

var signingMethods = map[string]jwt.SigningMethod{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// Manager issues and verifies signed access tokens. The signing key and
// algorithm are fixed at construction; tokens issued under a key stay
// verifiable for as long as that Manager lives.
type Manager struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

func New(secret string, algorithm string, ttl time.Duration) (*Manager, error) {
	method, ok := signingMethods[algorithm]
	if !ok {
		return nil, fmt.Errorf("jwt.New: unsupported signing algorithm %q", algorithm)
	}

	return &Manager{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
	}, nil
}

// TTL returns the configured access token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewAccessToken signs a short-lived token for the user. The "typ" claim
// pins the token to access-token use so a refresh secret can never pass as
// one and vice versa.
func (m *Manager) NewAccessToken(userID int64) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
		"typ": typeAccess,
	}

	token := jwt.NewWithClaims(m.method, claims)

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("jwt.NewAccessToken: %w", err)
	}

	return signed, nil
}

// ParseAccessToken verifies the signature, expiry and type claim and
// returns the subject user id. Expired tokens yield ErrTokenExpired; every
// other defect yields ErrTokenInvalid.
func (m *Manager) ParseAccessToken(raw string) (int64, error) {
	claims := jwt.MapClaims{}

	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrTokenInvalid
	}

	if !parsed.Valid {
		return 0, ErrTokenInvalid
	}

	if typ, ok := claims["typ"].(string); !ok || typ != typeAccess {
		return 0, ErrTokenInvalid
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, ErrTokenInvalid
	}

	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, ErrTokenInvalid
	}

	return userID, nil
}

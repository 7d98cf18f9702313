package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "identity_service/internal/lib/logger"
	"identity_service/internal/storage"
)

var (
	ErrTokenInvalid = errors.New("invalid refresh token")
	ErrTokenExpired = errors.New("refresh token expired")
	ErrTokenRevoked = errors.New("refresh token revoked")
)

const secretLen = 32

// TokenStore is the durable side of the ledger. RotateRefreshToken must be
// atomic: of two concurrent rotations of the same hash exactly one may
// succeed, the other must see storage.ErrRefreshTokenRevoked.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	RotateRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (int64, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, userID int64) error
	PurgeExpiredRefreshTokens(ctx context.Context) (int64, error)
}

// Ledger tracks refresh tokens by the hash of their secret. The plaintext
// secret exists only in the response to the caller; the store never sees it.
type Ledger struct {
	log   *slog.Logger
	store TokenStore
	ttl   time.Duration
}

func New(log *slog.Logger, store TokenStore, ttl time.Duration) *Ledger {
	return &Ledger{
		log:   log,
		store: store,
		ttl:   ttl,
	}
}

// Issue mints a fresh refresh secret for the user and records its hash.
func (l *Ledger) Issue(ctx context.Context, userID int64) (string, error) {
	const op = "ledger.Issue"

	secret, err := newSecret()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	expiresAt := time.Now().Add(l.ttl)

	if err := l.store.SaveRefreshToken(ctx, userID, hashSecret(secret), expiresAt); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return secret, nil
}

// Redeem exchanges a refresh secret for its successor, invalidating the
// presented one. A second redemption of the same secret reports
// ErrTokenRevoked, which a client should treat as a compromise signal.
func (l *Ledger) Redeem(ctx context.Context, secret string) (int64, string, error) {
	const op = "ledger.Redeem"

	log := l.log.With(slog.String("op", op))

	newSecretValue, err := newSecret()
	if err != nil {
		return 0, "", fmt.Errorf("%s: %w", op, err)
	}

	expiresAt := time.Now().Add(l.ttl)

	userID, err := l.store.RotateRefreshToken(ctx, hashSecret(secret), hashSecret(newSecretValue), expiresAt)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRefreshTokenNotFound):
			log.Warn("unknown refresh token presented")
			return 0, "", ErrTokenInvalid
		case errors.Is(err, storage.ErrRefreshTokenRevoked):
			log.Warn("revoked refresh token presented, possible reuse after theft")
			return 0, "", ErrTokenRevoked
		case errors.Is(err, storage.ErrRefreshTokenExpired):
			log.Info("expired refresh token presented")
			return 0, "", ErrTokenExpired
		}

		log.Error("failed to rotate refresh token", sl.Err(err))

		return 0, "", fmt.Errorf("%s: %w", op, err)
	}

	return userID, newSecretValue, nil
}

// Revoke invalidates the token matching the secret. Unknown and
// already-revoked secrets are a no-op success.
func (l *Ledger) Revoke(ctx context.Context, secret string) error {
	const op = "ledger.Revoke"

	if err := l.store.RevokeRefreshToken(ctx, hashSecret(secret)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeAllForUser invalidates every live token the user holds.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID int64) error {
	const op = "ledger.RevokeAllForUser"

	if err := l.store.RevokeAllRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// PurgeExpired drops revoked and expired rows. Live tokens are never touched.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	const op = "ledger.PurgeExpired"

	n, err := l.store.PurgeExpiredRefreshTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if n > 0 {
		l.log.Info("purged refresh tokens", slog.Int64("count", n))
	}

	return n, nil
}

func newSecret() (string, error) {
	buf := make([]byte, secretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))

	return hex.EncodeToString(sum[:])
}

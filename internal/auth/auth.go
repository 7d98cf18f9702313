package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sl "identity_service/internal/lib/logger"
	"identity_service/internal/lib/passhash"
	"identity_service/internal/metrics"
	"identity_service/internal/models"
	"identity_service/internal/oauth"
	"identity_service/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrUserExists         = errors.New("user already exists")
)

type UserSaver interface {
	SaveUser(ctx context.Context, email, username, passHash, provider, providerID string) (int64, error)
	UpsertOAuthUser(ctx context.Context, email, username, provider, providerID string) (models.User, error)
	TouchLastLogin(ctx context.Context, userID int64) error
	SetUserActive(ctx context.Context, userID int64, active bool) error
}

type UserProvider interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	UserByProvider(ctx context.Context, provider, providerID string) (models.User, error)
}

type RefreshLedger interface {
	Issue(ctx context.Context, userID int64) (string, error)
	Redeem(ctx context.Context, secret string) (int64, string, error)
	Revoke(ctx context.Context, secret string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
}

type TokenCodec interface {
	NewAccessToken(userID int64) (string, error)
	ParseAccessToken(raw string) (int64, error)
	TTL() time.Duration
}

// Auth coordinates login, refresh and logout over the user store, the
// refresh token ledger and the access token codec. It holds no state of its
// own; every request stands alone.
type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	ledger      RefreshLedger
	codec       TokenCodec
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	ledger RefreshLedger,
	codec TokenCodec,
) *Auth {
	return &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		ledger:      ledger,
		codec:       codec,
	}
}

func (a *Auth) RegisterNewUser(
	ctx context.Context,
	email, username, password string,
) (int64, error) {
	const op = "auth.RegisterNewUser"

	log := a.log.With(slog.String("op", op))

	log.Info("registering new user")

	hash, err := passhash.Hash(password)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := a.usrSaver.SaveUser(ctx, normalizeEmail(email), username, hash, "", "")
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")
			return 0, fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// Login authenticates a password account and issues a token pair. A missing
// user, a passwordless account and a wrong password all collapse into
// ErrInvalidCredentials so a caller cannot probe which emails exist.
func (a *Auth) Login(ctx context.Context, email, password string) (models.TokenPair, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			metrics.LoginAttempts.WithLabelValues(metrics.ResultFailure).Inc()
			return models.TokenPair{}, ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if !user.HasPassword() {
		log.Warn("password login against oauth-only account")
		metrics.LoginAttempts.WithLabelValues(metrics.ResultFailure).Inc()
		return models.TokenPair{}, ErrInvalidCredentials
	}

	ok, err := passhash.Verify(password, user.PassHash)
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Info("invalid credentials")
		metrics.LoginAttempts.WithLabelValues(metrics.ResultFailure).Inc()
		return models.TokenPair{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		log.Warn("inactive account", slog.Int64("uid", user.ID))
		metrics.LoginAttempts.WithLabelValues(metrics.ResultFailure).Inc()
		return models.TokenPair{}, ErrInactiveAccount
	}

	pair, err := a.issueTokenPair(ctx, user.ID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.LoginAttempts.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Info("user logged in successfully", slog.Int64("uid", user.ID))

	return pair, nil
}

// Refresh redeems a refresh secret for a new token pair. Error kinds from
// the ledger pass through unchanged so the edge can distinguish a revoked
// token, which signals reuse, from a merely unknown one.
func (a *Auth) Refresh(ctx context.Context, refreshSecret string) (models.TokenPair, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))

	userID, newSecret, err := a.ledger.Redeem(ctx, refreshSecret)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultFailure).Inc()
		return models.TokenPair{}, err
	}

	accessToken, err := a.codec.NewAccessToken(userID)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.TokenRefreshes.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Info("refresh successful", slog.Int64("uid", userID))

	return models.TokenPair{
		AccessToken:   accessToken,
		ExpiresIn:     int64(a.codec.TTL().Seconds()),
		RefreshSecret: newSecret,
	}, nil
}

// LoginWithProvider signs in a federated identity, creating or linking the
// local account as needed, and issues a token pair. Password verification
// is the provider's problem, not ours.
func (a *Auth) LoginWithProvider(
	ctx context.Context,
	provider string,
	rawProfile map[string]any,
) (models.TokenPair, error) {
	const op = "auth.LoginWithProvider"

	log := a.log.With(slog.String("op", op), slog.String("provider", provider))

	profile, err := oauth.Normalize(provider, rawProfile)
	if err != nil {
		log.Warn("failed to normalize oauth profile", sl.Err(err))
		metrics.LoginAttempts.WithLabelValues(metrics.ResultFailure).Inc()
		return models.TokenPair{}, err
	}

	// Deactivated accounts are rejected before the upsert so a sign-in
	// attempt cannot relink providers or rewrite the stored username.
	existing, err := a.usrProvider.UserByProvider(ctx, provider, profile.ProviderID)
	if errors.Is(err, storage.ErrUserNotFound) {
		existing, err = a.usrProvider.UserByEmail(ctx, normalizeEmail(profile.Email))
	}
	switch {
	case err == nil:
		if !existing.IsActive {
			log.Warn("inactive account", slog.Int64("uid", existing.ID))
			metrics.LoginAttempts.WithLabelValues(metrics.ResultFailure).Inc()
			return models.TokenPair{}, ErrInactiveAccount
		}
	case !errors.Is(err, storage.ErrUserNotFound):
		log.Error("failed to resolve oauth account", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.usrSaver.UpsertOAuthUser(
		ctx,
		normalizeEmail(profile.Email),
		profile.Username,
		provider,
		profile.ProviderID,
	)
	if err != nil {
		log.Error("failed to upsert oauth user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		log.Warn("inactive account", slog.Int64("uid", user.ID))
		metrics.LoginAttempts.WithLabelValues(metrics.ResultFailure).Inc()
		return models.TokenPair{}, ErrInactiveAccount
	}

	pair, err := a.issueTokenPair(ctx, user.ID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.LoginAttempts.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Info("oauth login successful", slog.Int64("uid", user.ID))

	return pair, nil
}

// Logout authenticates the caller by access token, then revokes the
// presented refresh secret. Unknown, expired and already-revoked secrets
// succeed the same way a live one does, so the response reveals nothing
// about the token's state.
func (a *Auth) Logout(ctx context.Context, accessToken, refreshSecret string) error {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))

	if _, err := a.CurrentUser(ctx, accessToken); err != nil {
		return err
	}

	if err := a.ledger.Revoke(ctx, refreshSecret); err != nil {
		log.Error("failed to revoke refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.TokenRevocations.Inc()
	log.Info("logout successful")

	return nil
}

// CurrentUser resolves an access token to its account. A structurally valid
// token is not enough: an account deactivated after issuance is rejected.
func (a *Auth) CurrentUser(ctx context.Context, accessToken string) (models.User, error) {
	const op = "auth.CurrentUser"

	log := a.log.With(slog.String("op", op))

	userID, err := a.codec.ParseAccessToken(accessToken)
	if err != nil {
		return models.User{}, err
	}

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("token subject no longer exists", slog.Int64("uid", userID))
			return models.User{}, ErrInvalidCredentials
		}

		log.Error("failed to load user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		return models.User{}, ErrInactiveAccount
	}

	return user, nil
}

// DeactivateUser soft-deletes the account and revokes every refresh token
// it holds. Outstanding access tokens stay valid until expiry; CurrentUser
// rejects them through the is_active check.
func (a *Auth) DeactivateUser(ctx context.Context, userID int64) error {
	const op = "auth.DeactivateUser"

	log := a.log.With(slog.String("op", op))

	if err := a.usrSaver.SetUserActive(ctx, userID, false); err != nil {
		log.Error("failed to deactivate user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.ledger.RevokeAllForUser(ctx, userID); err != nil {
		log.Error("failed to revoke user tokens", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.TokenRevocations.Inc()
	log.Info("user deactivated", slog.Int64("uid", userID))

	return nil
}

func (a *Auth) issueTokenPair(ctx context.Context, userID int64) (models.TokenPair, error) {
	refreshSecret, err := a.ledger.Issue(ctx, userID)
	if err != nil {
		a.log.Error("failed to issue refresh token", sl.Err(err))
		return models.TokenPair{}, err
	}

	accessToken, err := a.codec.NewAccessToken(userID)
	if err != nil {
		a.log.Error("failed to generate access token", sl.Err(err))
		return models.TokenPair{}, err
	}

	if err := a.usrSaver.TouchLastLogin(ctx, userID); err != nil {
		// Bookkeeping only; the login itself already succeeded.
		a.log.Warn("failed to touch last login", sl.Err(err))
	}

	return models.TokenPair{
		AccessToken:   accessToken,
		ExpiresIn:     int64(a.codec.TTL().Seconds()),
		RefreshSecret: refreshSecret,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"identity_service/internal/config"
	"identity_service/internal/models"
	"identity_service/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the repository uses. Tests substitute a
// pgxmock pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type Repo struct {
	db DB
}

func New(ctx context.Context, cfg *config.Config) (*Repo, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &Repo{db: pool}, nil
}

const userColumns = `id, email, username, COALESCE(password_hash, ''), COALESCE(provider, ''), COALESCE(provider_id, ''), is_active, created_at, updated_at, last_login`

func (r *Repo) SaveUser(
	ctx context.Context,
	email, username, passHash, provider, providerID string,
) (int64, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (email, username, password_hash, provider, provider_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id;
	`

	var id int64

	err := r.db.QueryRow(ctx, query,
		email,
		username,
		nullIfEmpty(passHash),
		nullIfEmpty(provider),
		nullIfEmpty(providerID),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrUserExists
		}

		return 0, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return id, nil
}

func (r *Repo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1;
	`

	return r.scanUser(ctx, query, email)
}

func (r *Repo) UserByID(ctx context.Context, id int64) (models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1;
	`

	return r.scanUser(ctx, query, id)
}

func (r *Repo) UserByProvider(ctx context.Context, provider, providerID string) (models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE provider = $1 AND provider_id = $2;
	`

	return r.scanUser(ctx, query, provider, providerID)
}

func (r *Repo) scanUser(ctx context.Context, query string, args ...any) (models.User, error) {
	row := r.db.QueryRow(ctx, query, args...)

	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PassHash,
		&u.Provider,
		&u.ProviderID,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	return u, nil
}

func (r *Repo) TouchLastLogin(ctx context.Context, userID int64) error {
	query := `UPDATE users SET last_login = NOW(), updated_at = NOW() WHERE id = $1`

	_, err := r.db.Exec(ctx, query, userID)

	return err
}

func (r *Repo) SetUserActive(ctx context.Context, userID int64, active bool) error {
	const op = "storage.postgres.SetUserActive"

	query := `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, userID, active)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

// UpsertOAuthUser resolves the account an OAuth profile maps to. An account
// already linked to the provider identity gets its username refreshed. An
// account that only matches by email gets the provider identity attached to
// it; its password hash, if any, stays untouched. Otherwise a fresh
// passwordless account is created.
func (r *Repo) UpsertOAuthUser(
	ctx context.Context,
	email, username, provider, providerID string,
) (models.User, error) {
	const op = "storage.postgres.UpsertOAuthUser"

	user, err := r.UserByProvider(ctx, provider, providerID)
	if err == nil {
		query := `UPDATE users SET username = $2, updated_at = NOW() WHERE id = $1`

		if _, err := r.db.Exec(ctx, query, user.ID, username); err != nil {
			return models.User{}, fmt.Errorf("%s: failed to sync profile: %w", op, err)
		}

		user.Username = username
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err = r.UserByEmail(ctx, email)
	if err == nil {
		query := `
			UPDATE users
			SET provider = $2, provider_id = $3, username = $4, updated_at = NOW()
			WHERE id = $1
		`

		if _, err := r.db.Exec(ctx, query, user.ID, provider, providerID, username); err != nil {
			return models.User{}, fmt.Errorf("%s: failed to link provider: %w", op, err)
		}

		user.Provider = provider
		user.ProviderID = providerID
		user.Username = username
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := r.SaveUser(ctx, email, username, "", provider, providerID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return r.UserByID(ctx, id)
}

func (r *Repo) SaveRefreshToken(
	ctx context.Context,
	userID int64,
	tokenHash string,
	expiresAt time.Time,
) error {
	const query = `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.db.Exec(ctx, query, userID, tokenHash, expiresAt)
	return err
}

// RotateRefreshToken atomically revokes the presented token and installs its
// successor. The conditional UPDATE is the serialization point: of two
// concurrent rotations of one hash, the second sees zero rows and reports
// the token as revoked. A token found expired is still left revoked, but no
// successor is created.
func (r *Repo) RotateRefreshToken(
	ctx context.Context,
	oldHash, newHash string,
	expiresAt time.Time,
) (int64, error) {
	const op = "storage.postgres.RotateRefreshToken"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	const revokeQuery = `
		UPDATE refresh_tokens
		SET is_revoked = TRUE
		WHERE token_hash = $1 AND is_revoked = FALSE
		RETURNING user_id, expires_at
	`

	var (
		userID       int64
		oldExpiresAt time.Time
	)

	err = tx.QueryRow(ctx, revokeQuery, oldHash).Scan(&userID, &oldExpiresAt)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s: failed to revoke token: %w", op, err)
		}

		var exists bool
		checkErr := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token_hash = $1)`,
			oldHash,
		).Scan(&exists)
		if checkErr != nil {
			return 0, fmt.Errorf("%s: failed to check token: %w", op, checkErr)
		}

		if exists {
			return 0, storage.ErrRefreshTokenRevoked
		}

		return 0, storage.ErrRefreshTokenNotFound
	}

	if !time.Now().Before(oldExpiresAt) {
		// Keep the revocation even though no successor is minted.
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("%s: failed to commit: %w", op, err)
		}

		return 0, storage.ErrRefreshTokenExpired
	}

	const insertQuery = `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`

	if _, err := tx.Exec(ctx, insertQuery, userID, newHash, expiresAt); err != nil {
		return 0, fmt.Errorf("%s: failed to save new token: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s: failed to commit: %w", op, err)
	}

	return userID, nil
}

func (r *Repo) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	query := `UPDATE refresh_tokens SET is_revoked = TRUE WHERE token_hash = $1 AND is_revoked = FALSE`

	_, err := r.db.Exec(ctx, query, tokenHash)

	return err
}

func (r *Repo) RevokeAllRefreshTokens(ctx context.Context, userID int64) error {
	query := `UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND is_revoked = FALSE`

	_, err := r.db.Exec(ctx, query, userID)

	return err
}

// PurgeExpiredRefreshTokens drops rows past their expiry. Revoked rows are
// kept until they expire so a replayed secret still answers as revoked
// rather than as never-seen.
func (r *Repo) PurgeExpiredRefreshTokens(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < NOW()`

	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (r *Repo) Close() {
	r.db.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}

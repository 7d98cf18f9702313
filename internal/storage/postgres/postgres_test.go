package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity_service/internal/models"
	"identity_service/internal/storage"
)

func newTestRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	return &Repo{db: mock}, mock
}

func userRowColumns() []string {
	return []string{
		"id", "email", "username", "password_hash", "provider",
		"provider_id", "is_active", "created_at", "updated_at", "last_login",
	}
}

func userRow(u models.User) *pgxmock.Rows {
	return pgxmock.NewRows(userRowColumns()).AddRow(
		u.ID, u.Email, u.Username, u.PassHash, u.Provider,
		u.ProviderID, u.IsActive, u.CreatedAt, u.UpdatedAt, u.LastLogin,
	)
}

func sampleUser() models.User {
	now := time.Now().UTC().Truncate(time.Microsecond)

	return models.User{
		ID:        7,
		Email:     "alice@example.com",
		Username:  "alice",
		PassHash:  "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$a2V5",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveUser(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice@example.com", "alice", "hash", nil, nil).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := repo.SaveUser(context.Background(), "alice@example.com", "alice", "hash", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUserDuplicateEmail(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice@example.com", "alice", "hash", nil, nil).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.SaveUser(context.Background(), "alice@example.com", "alice", "hash", "", "")
	assert.ErrorIs(t, err, storage.ErrUserExists)
}

func TestUserByEmailNotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("WHERE email").
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UserByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserByEmail(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	want := sampleUser()

	mock.ExpectQuery("WHERE email").
		WithArgs(want.Email).
		WillReturnRows(userRow(want))

	got, err := repo.UserByEmail(context.Background(), want.Email)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRotateRefreshToken(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens").
		WithArgs("old-hash").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).
			AddRow(int64(7), time.Now().Add(time.Hour)))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(int64(7), "new-hash", expiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	userID, err := repo.RotateRefreshToken(context.Background(), "old-hash", "new-hash", expiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshTokenUnknown(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens").
		WithArgs("missing-hash").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("missing-hash").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.RotateRefreshToken(context.Background(), "missing-hash", "new-hash", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrRefreshTokenNotFound)
}

// The second rotation of one hash loses the conditional UPDATE and must
// come back as revoked, not unknown.
func TestRotateRefreshTokenAlreadyRevoked(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens").
		WithArgs("spent-hash").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("spent-hash").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.RotateRefreshToken(context.Background(), "spent-hash", "new-hash", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrRefreshTokenRevoked)
}

// An expired token is still marked revoked, but no successor is inserted.
func TestRotateRefreshTokenExpired(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens").
		WithArgs("stale-hash").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).
			AddRow(int64(7), time.Now().Add(-time.Minute)))
	mock.ExpectCommit()

	_, err := repo.RotateRefreshToken(context.Background(), "stale-hash", "new-hash", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrRefreshTokenExpired)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeRefreshTokenIdempotent(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE refresh_tokens").
		WithArgs("some-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.NoError(t, repo.RevokeRefreshToken(context.Background(), "some-hash"))
}

func TestPurgeExpiredRefreshTokens(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	// Only expiry may purge a row; revoked rows stay answerable until then.
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE expires_at < NOW").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := repo.PurgeExpiredRefreshTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestUpsertOAuthUserLinksExistingEmailAccount(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	existing := sampleUser()

	mock.ExpectQuery("WHERE provider").
		WithArgs("google", "g-123").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("WHERE email").
		WithArgs(existing.Email).
		WillReturnRows(userRow(existing))
	mock.ExpectExec("UPDATE users").
		WithArgs(existing.ID, "google", "g-123", "Alice").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	got, err := repo.UpsertOAuthUser(context.Background(), existing.Email, "Alice", "google", "g-123")
	require.NoError(t, err)

	assert.Equal(t, "google", got.Provider)
	assert.Equal(t, "g-123", got.ProviderID)
	// Linking must not clear the password.
	assert.Equal(t, existing.PassHash, got.PassHash)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOAuthUserCreatesFreshAccount(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	created := models.User{
		ID:         9,
		Email:      "bob@example.com",
		Username:   "bob",
		Provider:   "github",
		ProviderID: "1234",
		IsActive:   true,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}

	mock.ExpectQuery("WHERE provider").
		WithArgs("github", "1234").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("WHERE email").
		WithArgs("bob@example.com").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("bob@example.com", "bob", nil, "github", "1234").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectQuery("WHERE id").
		WithArgs(int64(9)).
		WillReturnRows(userRow(created))

	got, err := repo.UpsertOAuthUser(context.Background(), "bob@example.com", "bob", "github", "1234")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.False(t, got.HasPassword())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOAuthUserSyncsKnownIdentity(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	existing := sampleUser()
	existing.Provider = "google"
	existing.ProviderID = "g-123"

	mock.ExpectQuery("WHERE provider").
		WithArgs("google", "g-123").
		WillReturnRows(userRow(existing))
	mock.ExpectExec("UPDATE users").
		WithArgs(existing.ID, "Alice Renamed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	got, err := repo.UpsertOAuthUser(context.Background(), existing.Email, "Alice Renamed", "google", "g-123")
	require.NoError(t, err)
	assert.Equal(t, "Alice Renamed", got.Username)
}

func TestSetUserActiveUnknownUser(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE users").
		WithArgs(int64(404), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetUserActive(context.Background(), 404, false)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

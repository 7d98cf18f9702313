package refresh

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity_service/internal/auth"
	"identity_service/internal/ledger"
	jwtlib "identity_service/internal/lib/jwt"
	"identity_service/internal/models"
	"identity_service/internal/storage"
)

type stubStore struct{}

func (stubStore) SaveUser(context.Context, string, string, string, string, string) (int64, error) {
	return 0, nil
}

func (stubStore) UpsertOAuthUser(context.Context, string, string, string, string) (models.User, error) {
	return models.User{}, nil
}

func (stubStore) TouchLastLogin(context.Context, int64) error { return nil }

func (stubStore) SetUserActive(context.Context, int64, bool) error { return nil }

func (stubStore) UserByEmail(context.Context, string) (models.User, error) {
	return models.User{}, storage.ErrUserNotFound
}

func (stubStore) UserByID(context.Context, int64) (models.User, error) {
	return models.User{}, storage.ErrUserNotFound
}

func (stubStore) UserByProvider(context.Context, string, string) (models.User, error) {
	return models.User{}, storage.ErrUserNotFound
}

type stubLedger struct {
	live string
	next string
}

func (s *stubLedger) Issue(context.Context, int64) (string, error) { return s.live, nil }

func (s *stubLedger) Redeem(_ context.Context, secret string) (int64, string, error) {
	if secret != s.live {
		return 0, "", ledger.ErrTokenInvalid
	}

	return 7, s.next, nil
}

func (s *stubLedger) Revoke(context.Context, string) error { return nil }

func (s *stubLedger) RevokeAllForUser(context.Context, int64) error { return nil }

func newTestHandler(t *testing.T) http.HandlerFunc {
	t.Helper()

	codec, err := jwtlib.New("test-signing-secret-of-32+-bytes!!", "HS256", 30*time.Minute)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := &stubLedger{live: "old-secret", next: "new-secret"}
	authService := auth.New(log, stubStore{}, stubStore{}, led, codec)

	return New(log, authService, 7*24*time.Hour, false)
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}

	return nil
}

func TestRefreshFromCookie(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "old-secret"})
	rec := httptest.NewRecorder()

	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token"`)

	c := refreshCookie(rec)
	require.NotNil(t, c)
	assert.Equal(t, "new-secret", c.Value)
	assert.True(t, c.HttpOnly)
}

func TestRefreshFallsBackToBody(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/refresh",
		strings.NewReader(`{"refresh_token":"old-secret"}`))
	rec := httptest.NewRecorder()

	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	c := refreshCookie(rec)
	require.NotNil(t, c)
	assert.Equal(t, "new-secret", c.Value)
}

func TestRefreshUnknownSecret(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/refresh",
		strings.NewReader(`{"refresh_token":"never-issued"}`))
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The dead secret must not be replayed: the cookie comes back cleared.
	c := refreshCookie(rec)
	require.NotNil(t, c)
	assert.Empty(t, c.Value)
	assert.Equal(t, -1, c.MaxAge)
}

func TestRefreshWithoutSecret(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/refresh", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

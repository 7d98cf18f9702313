package logout

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"identity_service/internal/auth"
	"identity_service/internal/http_server/cookie"
	resp "identity_service/internal/lib/api/response"
	jwtlib "identity_service/internal/lib/jwt"
	sl "identity_service/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Request struct {
	RefreshToken string `json:"refresh_token"`
}

type Response struct {
	resp.Response
}

// New builds the logout handler. The caller must present a valid bearer
// access token; the refresh secret itself is revoked idempotently, so live,
// expired, revoked and unknown secrets all report success the same way.
func New(
	log *slog.Logger,
	authService *auth.Auth,
	secureCookies bool,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		accessToken, ok := bearerToken(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("missing bearer token"))

			return
		}

		secret, ok := cookie.Refresh(r)
		if !ok {
			var req Request
			if err := render.DecodeJSON(r.Body, &req); err == nil {
				secret = req.RefreshToken
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := authService.Logout(ctx, accessToken, secret); err != nil {
			switch {
			case errors.Is(err, jwtlib.ErrTokenExpired),
				errors.Is(err, jwtlib.ErrTokenInvalid),
				errors.Is(err, auth.ErrInvalidCredentials):
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid access token"))
			case errors.Is(err, auth.ErrInactiveAccount):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("account is inactive"))
			default:
				log.Error("failed to logout user", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("service temporarily unavailable"))
			}

			return
		}

		cookie.ClearRefresh(w, secureCookies)

		log.Info("user logged out successfully")

		render.JSON(w, r, Response{
			Response: resp.OK(),
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")

	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}

	return token, true
}

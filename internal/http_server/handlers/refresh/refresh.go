package refresh

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"identity_service/internal/auth"
	"identity_service/internal/http_server/cookie"
	"identity_service/internal/ledger"
	resp "identity_service/internal/lib/api/response"
	sl "identity_service/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// Request is the body fallback for API clients that do not carry the
// refresh cookie.
type Request struct {
	RefreshToken string `json:"refresh_token"`
}

type Response struct {
	resp.Response
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func New(
	log *slog.Logger,
	authService *auth.Auth,
	refreshTTL time.Duration,
	secureCookies bool,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		secret, ok := cookie.Refresh(r)
		if !ok {
			var req Request
			if err := render.DecodeJSON(r.Body, &req); err == nil {
				secret = req.RefreshToken
			}
		}

		if secret == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("refresh token is required"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		pair, err := authService.Refresh(ctx, secret)
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrTokenInvalid):
				cookie.ClearRefresh(w, secureCookies)
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid refresh token"))
			case errors.Is(err, ledger.ErrTokenExpired):
				cookie.ClearRefresh(w, secureCookies)
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("refresh token expired"))
			case errors.Is(err, ledger.ErrTokenRevoked):
				cookie.ClearRefresh(w, secureCookies)
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("refresh token revoked"))
			default:
				log.Error("failed to refresh tokens", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("service temporarily unavailable"))
			}

			return
		}

		log.Info("Tokens refreshed successfully")

		cookie.SetRefresh(w, pair.RefreshSecret, refreshTTL, secureCookies)

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			AccessToken: pair.AccessToken,
			ExpiresIn:   pair.ExpiresIn,
		})
	}
}

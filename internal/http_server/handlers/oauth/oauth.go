package oauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"identity_service/internal/auth"
	"identity_service/internal/http_server/cookie"
	resp "identity_service/internal/lib/api/response"
	sl "identity_service/internal/lib/logger"
	oauthlib "identity_service/internal/oauth"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// Request carries the authorization result from the provider: either the
// authorization code to exchange, or an already-obtained provider access
// token (the shape browser SDK flows hand over).
type Request struct {
	Code        string `json:"code"`
	AccessToken string `json:"access_token"`
}

type Response struct {
	resp.Response
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func New(
	log *slog.Logger,
	authService *auth.Auth,
	providers *oauthlib.Client,
	refreshTTL time.Duration,
	secureCookies bool,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.oauth.New"

		provider := chi.URLParam(r, "provider")

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("provider", provider),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if req.Code == "" && req.AccessToken == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("code or access_token is required"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		rawProfile, err := providers.FetchProfile(ctx, provider, req.Code, req.AccessToken)
		if err != nil {
			if errors.Is(err, oauthlib.ErrUnsupportedProvider) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("unsupported oauth provider"))

				return
			}

			log.Error("failed to fetch oauth profile", sl.Err(err))

			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, resp.Error("failed to authenticate with provider"))

			return
		}

		pair, err := authService.LoginWithProvider(ctx, provider, rawProfile)
		if err != nil {
			switch {
			case errors.Is(err, oauthlib.ErrUnsupportedProvider),
				errors.Is(err, oauthlib.ErrMissingProfileField):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("incomplete oauth profile"))
			case errors.Is(err, auth.ErrInactiveAccount):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("account is inactive"))
			default:
				log.Error("failed to login with provider", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("service temporarily unavailable"))
			}

			return
		}

		log.Info("oauth login successful")

		cookie.SetRefresh(w, pair.RefreshSecret, refreshTTL, secureCookies)

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			AccessToken: pair.AccessToken,
			ExpiresIn:   pair.ExpiresIn,
		})
	}
}

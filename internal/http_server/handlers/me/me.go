package me

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"identity_service/internal/auth"
	resp "identity_service/internal/lib/api/response"
	jwtlib "identity_service/internal/lib/jwt"
	sl "identity_service/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
	LastLogin string `json:"last_login,omitempty"`
}

func New(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.me.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		token, ok := bearerToken(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("missing bearer token"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		user, err := authService.CurrentUser(ctx, token)
		if err != nil {
			switch {
			case errors.Is(err, jwtlib.ErrTokenExpired):
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("access token expired"))
			case errors.Is(err, jwtlib.ErrTokenInvalid),
				errors.Is(err, auth.ErrInvalidCredentials):
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid access token"))
			case errors.Is(err, auth.ErrInactiveAccount):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("account is inactive"))
			default:
				log.Error("failed to resolve current user", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("service temporarily unavailable"))
			}

			return
		}

		response := Response{
			Response:  resp.OK(),
			ID:        user.ID,
			Email:     user.Email,
			Username:  user.Username,
			CreatedAt: user.CreatedAt.Format(time.RFC3339),
		}
		if user.LastLogin != nil {
			response.LastLogin = user.LastLogin.Format(time.RFC3339)
		}

		render.JSON(w, r, response)
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

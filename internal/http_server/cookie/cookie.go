package cookie

import (
	"net/http"
	"time"
)

// refreshTokenName is the cookie carrying the plaintext refresh secret.
// The hash stored server-side never travels the other way.
const refreshTokenName = "refresh_token"

// SetRefresh installs the refresh secret cookie. HttpOnly keeps it away
// from scripts; SameSite=Lax keeps it off cross-site POSTs; Secure is
// driven by the deployment mode.
func SetRefresh(w http.ResponseWriter, secret string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenName,
		Value:    secret,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearRefresh expires the refresh cookie.
func ClearRefresh(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Refresh reads the refresh secret from the request cookie.
func Refresh(r *http.Request) (string, bool) {
	c, err := r.Cookie(refreshTokenName)
	if err != nil || c.Value == "" {
		return "", false
	}

	return c.Value, true
}

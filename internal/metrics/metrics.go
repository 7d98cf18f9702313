package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "login_attempts_total",
		Help:      "Password and OAuth login attempts by result.",
	}, []string{"result"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "token_refreshes_total",
		Help:      "Refresh token redemptions by result.",
	}, []string{"result"})

	TokenRevocations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "token_revocations_total",
		Help:      "Explicit refresh token revocations (logout, deactivation).",
	})
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

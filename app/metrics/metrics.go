// Package metrics holds the Prometheus collectors exported by the accounts
// service. Collectors register themselves with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "accounts"

// AuthEventsTotal counts authentication flow outcomes.
// Labels:
//   - event: signup, verify_email, signin, refresh, forgot_password, reset_password, resend_verification, logout, change_password
//   - outcome: success or a short failure reason (e.g. "invalid_credentials")
var AuthEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_events_total",
		Help:      "Total number of authentication flow calls, by event and outcome.",
	},
	[]string{"event", "outcome"},
)

// RefreshTokenReuseTotal counts presentations of an already revoked refresh token.
var RefreshTokenReuseTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_token_reuse_total",
		Help:      "Total number of revoked refresh tokens presented for rotation.",
	},
)

// MailDeliveriesTotal counts outgoing mail attempts.
// Labels:
//   - transport: smtp, amqp or log
//   - result: sent or failed
var MailDeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mail_deliveries_total",
		Help:      "Total number of outgoing mail attempts, by transport and result.",
	},
	[]string{"transport", "result"},
)

// RateLimitedTotal counts requests rejected by the fixed-window limiter.
var RateLimitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Total number of requests rejected by the rate limiter, by route.",
	},
	[]string{"route"},
)

// HTTPRequestDuration measures handler latency.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests, by method, route and status code.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

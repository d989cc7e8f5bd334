package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/princinho/mocreatives/auth"
	"github.com/princinho/mocreatives/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth operation labels.
const (
	OpRegister      = "register"
	OpLogin         = "login"
	OpForgotPass    = "forgot_password"
	OpResetPass     = "reset_password"
	OpChangePass    = "change_password"
	OpAuthenticate  = "authenticate"
	OpUpdateProfile = "update_profile"
	OpDelete        = "delete_identity"
)

type Metrics struct {
	AuthEventsTotal     *prometheus.CounterVec
	RateLimitedTotal    *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mocreatives_auth_events_total",
				Help: "Authentication operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mocreatives_rate_limited_total",
				Help: "Requests rejected by the attempt limiter",
			},
			[]string{"scope"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mocreatives_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mocreatives_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: registry,
	}
	registry.MustRegister(
		m.AuthEventsTotal,
		m.RateLimitedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) RecordAuth(operation string, err error) {
	m.AuthEventsTotal.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) RecordRateLimited(scope string) {
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

// Outcome maps an auth error to a bounded label value.
func Outcome(err error) string {
	return auth.Kind(err)
}

// Middleware records request counts and latency by route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*models.User, error)
}

// RecordingAuthenticator counts the outcome of every session check.
type RecordingAuthenticator struct {
	next    authenticator
	metrics *Metrics
}

func (m *Metrics) Authenticator(next authenticator) *RecordingAuthenticator {
	return &RecordingAuthenticator{next: next, metrics: m}
}

func (a *RecordingAuthenticator) Authenticate(ctx context.Context, rawToken string) (*models.User, error) {
	user, err := a.next.Authenticate(ctx, rawToken)
	a.metrics.RecordAuth(OpAuthenticate, err)
	return user, err
}

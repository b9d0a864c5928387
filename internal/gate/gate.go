// Package gate implements the admission filter in front of the API:
// bearer-token authentication followed by a fixed-window, per-client
// request ceiling.
package gate

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/simgate/internal/metrics"
)

const (
	// DefaultRateLimitPerWindow is used when Config.RateLimitPerWindow is unset.
	DefaultRateLimitPerWindow = 180

	// FallbackClientKey is the client key when no forwarding header is present.
	FallbackClientKey = "local"

	window     = time.Second
	idleExpiry = 10 * time.Second
	maxBuckets = 4096
)

var (
	ErrUnauthorized = errors.New("unauthorized: send Authorization: Bearer <token> or X-Api-Key")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// Config is the already-parsed gate configuration.
type Config struct {
	// RequiredToken disables authentication when empty.
	RequiredToken      string
	RateLimitPerWindow int
}

// Gate authenticates and throttles requests. All Gates built over the same
// Buckets share one quota per client key.
type Gate struct {
	token   string
	limit   uint32
	buckets *Buckets
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger used for rejection debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New builds a Gate over the shared bucket map.
func New(cfg Config, buckets *Buckets, opts ...Option) *Gate {
	limit := cfg.RateLimitPerWindow
	if limit <= 0 {
		limit = DefaultRateLimitPerWindow
	}
	g := &Gate{
		token:   strings.TrimSpace(cfg.RequiredToken),
		limit:   uint32(limit),
		buckets: buckets,
		now:     time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// AuthEnabled reports whether a token is required.
func (g *Gate) AuthEnabled() bool { return g.token != "" }

// Middleware wraps next with authentication and rate limiting. Rejected
// requests never reach next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Check(r); err != nil {
			status := http.StatusTooManyRequests
			reason := "rate_limited"
			if errors.Is(err, ErrUnauthorized) {
				status = http.StatusUnauthorized
				reason = "unauthorized"
			}
			metrics.GateDecisions.WithLabelValues(reason).Inc()
			g.logger.Debug("request rejected", "reason", reason, "path", r.URL.Path)
			writeReject(w, status, err)
			return
		}
		metrics.GateDecisions.WithLabelValues("admitted").Inc()
		next.ServeHTTP(w, r)
	})
}

// Check runs both admission steps for r and returns ErrUnauthorized or
// ErrRateLimited on rejection.
func (g *Gate) Check(r *http.Request) error {
	if !g.authenticate(r.Header) {
		return ErrUnauthorized
	}
	if !g.buckets.allow(ClientKey(r.Header), g.limit, g.now()) {
		return ErrRateLimited
	}
	return nil
}

func (g *Gate) authenticate(h http.Header) bool {
	if g.token == "" {
		return true
	}
	bearer := strings.TrimSpace(h.Get("Authorization"))
	if len(bearer) >= len("Bearer ") && strings.EqualFold(bearer[:len("Bearer ")], "Bearer ") {
		bearer = bearer[len("Bearer "):]
	}
	apiKey := strings.TrimSpace(h.Get("X-Api-Key"))
	return tokenEqual(bearer, g.token) || tokenEqual(apiKey, g.token)
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ClientKey derives the rate-limit key: X-Forwarded-For, then X-Real-Ip,
// then FallbackClientKey.
func ClientKey(h http.Header) string {
	for _, name := range []string{"X-Forwarded-For", "X-Real-Ip"} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return FallbackClientKey
}

func writeReject(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Package resilience protects the scan pipeline from a flaky reputation
// provider: a circuit breaker, a TTL cache of completed verdicts, and the
// exponential backoff used by retry loops.
package resilience

import (
	"context"
	"log/slog"
	"time"

	"qrsafe/internal/domain"
	"qrsafe/internal/observability"
	"qrsafe/internal/ports"
)

// DefaultCacheTTL is how long a completed verdict is reused.
const DefaultCacheTTL = 5 * time.Minute

// Guard wraps a ReputationClient with a cache and a circuit breaker. It
// satisfies ports.ReputationClient itself.
type Guard struct {
	client  ports.ReputationClient
	cache   ports.ReputationCache
	breaker *Breaker
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

type GuardOption func(*Guard)

func WithCache(c ports.ReputationCache, ttl time.Duration) GuardOption {
	return func(g *Guard) {
		g.cache = c
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithBreaker(b *Breaker) GuardOption { return func(g *Guard) { g.breaker = b } }

func WithMetrics(m *observability.Metrics) GuardOption { return func(g *Guard) { g.metrics = m } }

func WithLogger(l *slog.Logger) GuardOption { return func(g *Guard) { g.logger = l } }

func NewGuard(client ports.ReputationClient, opts ...GuardOption) *Guard {
	g := &Guard{client: client, ttl: DefaultCacheTTL, logger: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	if g.breaker == nil {
		g.breaker = NewBreaker()
	}
	return g
}

// Breaker exposes the guard's circuit breaker.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Assess returns a cached verdict when one is fresh, short-circuits to
// Unavailable while the circuit is open, and otherwise calls the client.
func (g *Guard) Assess(ctx context.Context, url string) domain.ReputationVerdict {
	if g.cache != nil {
		v, ok := g.cache.Get(ctx, url)
		g.metrics.CacheLookup(ok)
		if ok {
			return v
		}
	}

	if !g.breaker.Allow() {
		v := domain.ReputationVerdict{State: domain.ReputationUnavailable, Failure: domain.FailureCircuitOpen}
		g.metrics.ReputationLookup(string(v.State), string(v.Failure))
		return v
	}

	v := g.client.Assess(ctx, url)
	if countsAsFailure(v) {
		g.breaker.RecordFailure()
		g.logger.WarnContext(ctx, "reputation lookup failed",
			"failure", v.Failure, "breaker", g.breaker.State().String())
	} else {
		g.breaker.RecordSuccess()
	}
	g.metrics.SetBreakerState(int(g.breaker.State()))
	g.metrics.ReputationLookup(string(v.State), string(v.Failure))

	if v.State == domain.ReputationComplete && g.cache != nil {
		g.cache.Put(ctx, url, v, g.ttl)
	}
	return v
}

// NotFound and a missing credential are answers, not provider outages.
func countsAsFailure(v domain.ReputationVerdict) bool {
	if v.State != domain.ReputationUnavailable {
		return false
	}
	switch v.Failure {
	case domain.FailureNetwork, domain.FailureRateLimited, domain.FailureForbidden:
		return true
	}
	return false
}

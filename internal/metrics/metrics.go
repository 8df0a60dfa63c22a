// Package metrics exposes the prometheus collectors recorded by the leaderboard backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quraniq"

// Collectors groups every metric the service records. A nil *Collectors records nothing.
type Collectors struct {
	registry            *prometheus.Registry
	scoresSubmitted     *prometheus.CounterVec
	backfillWrites      prometheus.Counter
	leaderboardRequests *prometheus.CounterVec
	leaderboardMembers  prometheus.Histogram
	memberFetchFailures prometheus.Counter
	ghostsMerged        prometheus.Counter
	ghostCleanupErrors  prometheus.Counter
	migrationOutcomes   *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New builds the collectors on a dedicated registry.
func New() *Collectors {
	registry := prometheus.NewRegistry()
	collectors := &Collectors{
		registry: registry,
		scoresSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "scores_submitted_total", Help: "Score submissions by game mode"},
			[]string{"game_mode"},
		),
		backfillWrites: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "backfill_writes_total", Help: "Backfill passes that raised a stored score"},
		),
		leaderboardRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "leaderboard_requests_total", Help: "Leaderboard reads by cache outcome"},
			[]string{"source"},
		),
		leaderboardMembers: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "leaderboard_roster_size",
				Help:      "Entries in a freshly computed roster",
				Buckets:   []float64{1, 2, 5, 10, 15, 20},
			},
		),
		memberFetchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "leaderboard_member_fetch_failures_total", Help: "Members left out of a roster because their records could not be read"},
		),
		ghostsMerged: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "ghosts_merged_total", Help: "Ghost entries folded into the viewer"},
		),
		ghostCleanupErrors: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "ghost_cleanup_errors_total", Help: "Background ghost cleanups that failed"},
		),
		migrationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "identity_migrations_total", Help: "Identity migration runs by outcome"},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status"},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	registry.MustRegister(
		collectors.scoresSubmitted,
		collectors.backfillWrites,
		collectors.leaderboardRequests,
		collectors.leaderboardMembers,
		collectors.memberFetchFailures,
		collectors.ghostsMerged,
		collectors.ghostCleanupErrors,
		collectors.migrationOutcomes,
		collectors.httpRequests,
		collectors.httpDuration,
	)
	return collectors
}

// Registry returns the registry backing the collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the prometheus text format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) ScoreSubmitted(gameMode string) {
	if c == nil {
		return
	}
	c.scoresSubmitted.WithLabelValues(gameMode).Inc()
}

func (c *Collectors) BackfillWritten() {
	if c == nil {
		return
	}
	c.backfillWrites.Inc()
}

// LeaderboardServed records whether a roster came from the cache or was computed.
func (c *Collectors) LeaderboardServed(cached bool) {
	if c == nil {
		return
	}
	source := "computed"
	if cached {
		source = "cache"
	}
	c.leaderboardRequests.WithLabelValues(source).Inc()
}

func (c *Collectors) RosterComputed(entries, failedMembers int) {
	if c == nil {
		return
	}
	c.leaderboardMembers.Observe(float64(entries))
	c.memberFetchFailures.Add(float64(failedMembers))
}

func (c *Collectors) GhostsMerged(count int) {
	if c == nil || count <= 0 {
		return
	}
	c.ghostsMerged.Add(float64(count))
}

func (c *Collectors) GhostCleanupFailed() {
	if c == nil {
		return
	}
	c.ghostCleanupErrors.Inc()
}

func (c *Collectors) MigrationFinished(outcome string) {
	if c == nil {
		return
	}
	c.migrationOutcomes.WithLabelValues(outcome).Inc()
}

// HTTPRequest records one served request.
func (c *Collectors) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorsAreSafe(t *testing.T) {
	var collectors *Collectors
	collectors.ScoreSubmitted("harf")
	collectors.LeaderboardServed(true)
	collectors.GhostsMerged(2)
	collectors.MigrationFinished("migrated")
	collectors.HTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
	assert.Nil(t, collectors.Registry())
}

func TestCollectorsCount(t *testing.T) {
	collectors := New()
	collectors.ScoreSubmitted("harf")
	collectors.ScoreSubmitted("harf")
	collectors.LeaderboardServed(true)
	collectors.LeaderboardServed(false)
	collectors.LeaderboardServed(false)
	collectors.GhostsMerged(0)
	collectors.GhostsMerged(3)

	body := scrape(t, collectors)
	assert.Contains(t, body, `quraniq_scores_submitted_total{game_mode="harf"} 2`)
	assert.Contains(t, body, `quraniq_leaderboard_requests_total{source="computed"} 2`)
	assert.Contains(t, body, `quraniq_leaderboard_requests_total{source="cache"} 1`)
	assert.Contains(t, body, `quraniq_ghosts_merged_total 3`)
}

func scrape(t *testing.T, collectors *Collectors) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	collectors.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	return recorder.Body.String()
}

func TestHandlerExposesRegistry(t *testing.T) {
	collectors := New()
	collectors.MigrationFinished("migrated")

	assert.True(t, strings.Contains(scrape(t, collectors), `quraniq_identity_migrations_total{outcome="migrated"} 1`))
}

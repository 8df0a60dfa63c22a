package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "QURANIQ"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "quraniq.db"
	defaultLogLevel            = "info"
	defaultTokenIssuer         = "quraniq-api"
	defaultTokenAudience       = "quraniq-web"
	defaultTokenTTLMinutes     = 30 * 24 * 60
	defaultCacheTTL            = 5 * time.Minute
	defaultScoreCutoff         = "2026-02-13"
	defaultHistoryLimit        = 30
	defaultFetchConcurrency    = 8
	defaultMaxMembers          = 20
	defaultMaxGroupsPerPlayer  = 5
	defaultTotalVerses         = 6236
	defaultAllowedOrigin       = "*"
	defaultGhostCleanupTimeout = 30 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	SigningSecret       string
	TokenIssuer         string
	TokenAudience       string
	TokenTTL            time.Duration
	AllowedOrigins      []string
	CacheTTL            time.Duration
	ScoreCutoff         string
	HistoryLimit        int
	FetchConcurrency    int
	GhostCleanupTimeout time.Duration
	MaxMembers          int
	MaxGroupsPerPlayer  int
	TotalVerses         int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("leaderboard.cache_ttl", defaultCacheTTL)
	configViper.SetDefault("leaderboard.score_cutoff", defaultScoreCutoff)
	configViper.SetDefault("leaderboard.history_limit", defaultHistoryLimit)
	configViper.SetDefault("leaderboard.fetch_concurrency", defaultFetchConcurrency)
	configViper.SetDefault("leaderboard.ghost_cleanup_timeout", defaultGhostCleanupTimeout)
	configViper.SetDefault("groups.max_members", defaultMaxMembers)
	configViper.SetDefault("groups.max_per_player", defaultMaxGroupsPerPlayer)
	configViper.SetDefault("quran.total_verses", defaultTotalVerses)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		TokenIssuer:         configViper.GetString("auth.issuer"),
		TokenAudience:       configViper.GetString("auth.audience"),
		TokenTTL:            time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AllowedOrigins:      configViper.GetStringSlice("http.allowed_origins"),
		CacheTTL:            configViper.GetDuration("leaderboard.cache_ttl"),
		ScoreCutoff:         configViper.GetString("leaderboard.score_cutoff"),
		HistoryLimit:        configViper.GetInt("leaderboard.history_limit"),
		FetchConcurrency:    configViper.GetInt("leaderboard.fetch_concurrency"),
		GhostCleanupTimeout: configViper.GetDuration("leaderboard.ghost_cleanup_timeout"),
		MaxMembers:          configViper.GetInt("groups.max_members"),
		MaxGroupsPerPlayer:  configViper.GetInt("groups.max_per_player"),
		TotalVerses:         configViper.GetInt("quran.total_verses"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if _, err := time.Parse(time.DateOnly, c.ScoreCutoff); err != nil {
		return fmt.Errorf("leaderboard.score_cutoff must be YYYY-MM-DD: %w", err)
	}
	if c.MaxMembers <= 0 || c.MaxGroupsPerPlayer <= 0 {
		return fmt.Errorf("groups.max_members and groups.max_per_player must be positive")
	}
	return nil
}

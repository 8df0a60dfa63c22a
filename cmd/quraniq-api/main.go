package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/config"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/database"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/migration"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/savecode"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quraniq-api",
		Short: "QuranIQ groups and leaderboard service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newPruneScoresCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Duration("cache-ttl", defaults.GetDuration("leaderboard.cache_ttl"), "Leaderboard cache TTL")
	cmd.PersistentFlags().String("score-cutoff", defaults.GetString("leaderboard.score_cutoff"), "First puzzle date counted by leaderboards")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "leaderboard.cache_ttl", "cache-ttl")
	bindFlag(cmd, "leaderboard.score_cutoff", "score-cutoff")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newPruneScoresCommand() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "prune-scores",
		Short: "Delete score entries dated before a puzzle date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := scores.NewPuzzleDate(before)
			if err != nil {
				return err
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			store, err := scores.NewStore(scores.StoreConfig{Database: db, Logger: logger, TotalVerses: appConfig.TotalVerses})
			if err != nil {
				return err
			}
			removed, err := store.PruneBefore(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d score entries before %s\n", removed, cutoff)
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Puzzle date (YYYY-MM-DD); entries strictly before it are deleted")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	runner := leaderboard.NewBackgroundRunner(logger, appConfig.GhostCleanupTimeout)
	defer runner.Wait()

	handler, err := buildHandler(appConfig, db, runner, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildHandler(appConfig config.AppConfig, db *gorm.DB, runner *leaderboard.BackgroundRunner, logger *zap.Logger) (http.Handler, error) {
	collectors := metrics.New()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	playerService, err := players.NewService(players.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: players.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	scoreStore, err := scores.NewStore(scores.StoreConfig{
		Database:    db,
		Clock:       time.Now,
		Logger:      logger,
		TotalVerses: appConfig.TotalVerses,
	})
	if err != nil {
		return nil, err
	}

	directory, err := groups.NewDirectory(groups.DirectoryConfig{
		Database:           db,
		Clock:              time.Now,
		Logger:             logger,
		Codes:              groups.NewRandomCodeGenerator(),
		ActiveGroups:       playerService,
		MaxMembers:         appConfig.MaxMembers,
		MaxGroupsPerPlayer: appConfig.MaxGroupsPerPlayer,
	})
	if err != nil {
		return nil, err
	}

	leaderboardService, err := leaderboard.NewService(leaderboard.ServiceConfig{
		Directory:        directory,
		Scores:           scoreStore,
		Clock:            time.Now,
		Logger:           logger,
		Metrics:          collectors,
		Runner:           runner,
		CacheTTL:         appConfig.CacheTTL,
		HistoryLimit:     appConfig.HistoryLimit,
		FetchConcurrency: appConfig.FetchConcurrency,
		ScoreCutoff:      scores.PuzzleDate(appConfig.ScoreCutoff),
	})
	if err != nil {
		return nil, err
	}

	notifier, err := leaderboard.NewNotifier(leaderboard.NotifierConfig{
		Database:    db,
		Directory:   directory,
		Leaderboard: leaderboardService,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	migrationManager, err := migration.NewManager(migration.ManagerConfig{
		Database:     db,
		Directory:    directory,
		Scores:       scoreStore,
		ActiveGroups: playerService,
		Cache:        leaderboardService,
		Metrics:      collectors,
		Clock:        time.Now,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	saveCodes, err := savecode.NewService(savecode.ServiceConfig{
		Groups:       directory,
		DisplayNames: scoreStore,
		ActiveGroups: playerService,
		Migrations:   migrationManager,
		Clock:        time.Now,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenIssuer,
		Sessions:       tokenIssuer.Validator(),
		Players:        playerService,
		Scores:         scoreStore,
		Groups:         directory,
		Leaderboard:    leaderboardService,
		Notifier:       notifier,
		SaveCodes:      saveCodes,
		Migrations:     migrationManager,
		Metrics:        collectors,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
}

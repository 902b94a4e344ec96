package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gratialabs/gratia/internal/apiclient"
	"github.com/gratialabs/gratia/internal/config"
	"github.com/gratialabs/gratia/internal/feed"
	"github.com/gratialabs/gratia/internal/logging"
	"github.com/gratialabs/gratia/internal/reactions"
	"github.com/gratialabs/gratia/internal/server"
	"github.com/gratialabs/gratia/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "gratia-gateway",
		Short: "Gratia feed gateway and entity synchronization engine",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("upstream-base-url", defaults.GetString("upstream.base_url"), "Base URL of the Gratia API")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Duration("entity-ttl", defaults.GetDuration("engine.entity_ttl"), "Entity cache freshness TTL")
	cmd.PersistentFlags().Duration("ledger-max-age", defaults.GetDuration("engine.ledger_max_age"), "Maximum age of an unconfirmed mutation")
	cmd.PersistentFlags().Duration("sweep-interval", defaults.GetDuration("engine.sweep_interval"), "Ledger staleness sweep interval")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "upstream.base_url", "upstream-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "engine.entity_ttl", "entity-ttl")
	bindFlag(cmd, "engine.ledger_max_age", "ledger-max-age")
	bindFlag(cmd, "engine.sweep_interval", "sweep-interval")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
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

	reactionStore, err := reactions.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer reactionStore.Close() //nolint:errcheck

	sessions, err := session.NewManager(session.ManagerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
	})
	if err != nil {
		return err
	}

	upstream, err := apiclient.NewClient(apiclient.Config{
		BaseURL: appConfig.UpstreamBaseURL,
		Tokens:  sessions,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	channel := feed.NewChannel(logger)
	cache := feed.NewCache(nil)
	ledger := feed.NewLedger(nil, logger)

	synchronizer, err := feed.NewSynchronizer(feed.SynchronizerConfig{
		Cache:    cache,
		Ledger:   ledger,
		Channel:  channel,
		Fetcher:  upstream,
		FreshTTL: appConfig.EntityFreshTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	sessions.OnTeardown(synchronizer.ClearAll)

	sweeper := feed.NewSweeper(ledger, appConfig.SweepInterval, appConfig.LedgerMaxAge, logger)
	sweeper.Start()
	defer sweeper.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Synchronizer: synchronizer,
		Upstream:     upstream,
		Sessions:     sessions,
		Reactions:    reactionStore,
		Logger:       logger,
	})
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
		logger.Info("gateway starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("upstream", appConfig.UpstreamBaseURL))
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

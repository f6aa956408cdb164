package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucentlabs/beacon/backend/internal/attribution"
	"github.com/lucentlabs/beacon/backend/internal/auth"
	"github.com/lucentlabs/beacon/backend/internal/config"
	"github.com/lucentlabs/beacon/backend/internal/database"
	"github.com/lucentlabs/beacon/backend/internal/identity"
	"github.com/lucentlabs/beacon/backend/internal/logging"
	"github.com/lucentlabs/beacon/backend/internal/reporting"
	"github.com/lucentlabs/beacon/backend/internal/server"
	"github.com/lucentlabs/beacon/backend/internal/tracking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "beacon-api",
		Short: "Beacon marketing attribution service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("staff-issuer", defaults.GetString("staff.issuer"), "Issuer expected on staff session tokens")
	cmd.PersistentFlags().String("staff-signing-secret", "", "Staff session signing secret (overrides env)")
	cmd.PersistentFlags().Int("attribution-window-days", defaults.GetInt("attribution.window_days"), "Attribution lookback window in days")
	cmd.PersistentFlags().Int("dispatch-buffer", defaults.GetInt("tracking.dispatch_buffer"), "Touch dispatch queue size")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "staff.issuer", "staff-issuer")
	bindFlag(cmd, "staff.signing_secret", "staff-signing-secret")
	bindFlag(cmd, "attribution.window_days", "attribution-window-days")
	bindFlag(cmd, "tracking.dispatch_buffer", "dispatch-buffer")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := identity.NewUUIDProvider()

	touchService, err := tracking.NewService(tracking.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	dispatcher, err := tracking.NewDispatcher(tracking.DispatcherConfig{
		Service:    touchService,
		Logger:     logger,
		BufferSize: appConfig.DispatchBuffer,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	attachments, err := identity.NewService(identity.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	resolver, err := attribution.NewResolver(attribution.ResolverConfig{
		Touches:     touchService,
		Attachments: attachments,
		Window:      appConfig.AttributionWindow,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	recorder, err := attribution.NewRecorder(attribution.RecorderConfig{
		Database:   db,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	reader, err := reporting.NewReader(reporting.ReaderConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	staffValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.StaffSigningKey),
		Issuer:        appConfig.StaffIssuer,
		CookieName:    appConfig.StaffCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Dispatcher:     dispatcher,
		Attachments:    attachments,
		Recorder:       recorder,
		Reader:         reader,
		StaffValidator: staffValidator,
		Identity: server.IdentitySettings{
			VisitorCookieName:  appConfig.VisitorCookieName,
			SessionCookieName:  appConfig.SessionCookieName,
			VisitorTTL:         appConfig.VisitorTTL,
			SessionIdleTimeout: appConfig.SessionIdleTimeout,
		},
		Logger: logger,
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

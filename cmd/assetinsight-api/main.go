package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/accounts"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/auth"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/cloud"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/config"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/database"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/logging"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	tokenIssuer     = "assetinsight-auth"
	accessAudience  = "assetinsight-api"
	refreshAudience = "assetinsight-refresh"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "assetinsight-api",
		Short: "Asset Insight sync service",
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
	config.ApplyServerDefaults(viper.GetViper())
	defaults := viper.New()
	config.ApplyServerDefaults(defaults)
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Duration("access-ttl", defaults.GetDuration("token.access_ttl"), "Access token lifetime")
	cmd.PersistentFlags().Duration("refresh-ttl", defaults.GetDuration("token.refresh_ttl"), "Refresh token lifetime")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "CORS origins (default: any)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.access_ttl", "access-ttl")
	bindFlag(cmd, "token.refresh_ttl", "refresh-ttl")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenServer(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuerService, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret:   []byte(appConfig.SigningSecret),
		Issuer:          tokenIssuer,
		AccessAudience:  accessAudience,
		RefreshAudience: refreshAudience,
		AccessTTL:       appConfig.AccessTTL,
		RefreshTTL:      appConfig.RefreshTTL,
	})
	if err != nil {
		return err
	}

	hasher, err := auth.NewPasswordHasher(0)
	if err != nil {
		return err
	}

	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Database:   db,
		Hasher:     hasher,
		IDProvider: cloud.NewUUIDProvider(),
		Clock:      time.Now,
	})
	if err != nil {
		return err
	}

	syncService, err := cloud.NewService(cloud.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: cloud.NewUUIDProvider(),
		Logger:     logger.Named("cloud"),
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenIssuerService,
		Accounts:       accountService,
		Sync:           syncService,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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

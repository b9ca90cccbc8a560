package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/guildgate/guildgate/internal/api"
	"github.com/guildgate/guildgate/internal/config"
	"github.com/guildgate/guildgate/internal/guild"
	"github.com/guildgate/guildgate/internal/jobs"
	"github.com/guildgate/guildgate/internal/oauth"
	"github.com/guildgate/guildgate/internal/redirect"
	"github.com/guildgate/guildgate/internal/store"
	"github.com/guildgate/guildgate/internal/verify"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger := newLogger(cfg.Environment)
	defer logger.Sync()

	// Open the record store
	st := store.Open(cfg.DataDir, logger)

	logger.Info("starting up",
		zap.Int("port", cfg.Port),
		zap.String("redirect_uri", cfg.RedirectURI),
		zap.String("origin_guild", cfg.GuildID),
		zap.String("target_guild", cfg.TargetGuildID),
		zap.Bool("auto_kick", cfg.AutoKickAfterAdd))

	// External clients
	provider := oauth.NewClient(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI, logger)
	guildClient := guild.NewClient(cfg.BotToken, logger)

	// Core services
	verifier := verify.NewService(provider, guildClient, st, cfg.VerifiedRoleID, cfg.UnverifiedRoleID, logger)
	engine := redirect.NewEngine(guildClient, st, cfg.RedirectPacing, cfg.GuildID, cfg.AutoKickAfterAdd, logger)

	// Background jobs
	scheduler := jobs.NewScheduler(st, logger)
	scheduler.Start()
	defer scheduler.Stop()

	// Admin credentials are hashed once at startup
	adminHash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("failed to hash admin password", zap.Error(err))
	}

	router := api.NewRouter(cfg, st, verifier, engine, adminHash, logger)

	// No write timeout: batch redirection holds its response open for the
	// full pacing span of the batch.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func newLogger(environment string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

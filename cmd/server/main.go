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

	"github.com/geta-app/geta/internal/api"
	"github.com/geta-app/geta/internal/auth"
	"github.com/geta-app/geta/internal/cache"
	"github.com/geta-app/geta/internal/config"
	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/logging"
	"github.com/geta-app/geta/internal/server"
	"github.com/geta-app/geta/internal/stats"
	"github.com/spf13/pflag"
)

func main() {
	dotenv, err := config.LoadDotEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	if len(dotenv) > 0 {
		logger.Debug().Strs("files", dotenv).Msg("loaded env files")
	}

	dbConn, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if cfg.AutoMigrate {
		if err := database.Migrate(dbConn.DB()); err != nil {
			logger.Fatal().Err(err).Msg("db migrate")
		}
		logger.Info().Msg("database schema is up to date")
	}

	var feedCache cache.Cache = cache.NopCache{}
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisCache.Close()
		feedCache = redisCache
		logger.Info().Str("addr", cfg.RedisAddr).Msg("publication feed cache enabled")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater)
	if err != nil {
		logger.Fatal().Err(err).Msg("new chat server")
	}

	tokens := auth.NewTokenService(cfg.SigningKey, cfg.TokenTTL)
	srv := api.NewApp(mux, logger, chatServer, dbConn, tokens, feedCache, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("chat server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}

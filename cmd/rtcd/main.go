package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexuschat/nexus/internal/config"
	"github.com/nexuschat/nexus/internal/httpx"
	"github.com/nexuschat/nexus/internal/observability"
	"github.com/nexuschat/nexus/internal/rtc"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	logger := observability.InitLogger("rtcd")
	observability.RegisterMetrics()

	cfg, err := config.Load(*configPath, config.Default(":8083"))
	if err != nil {
		logger.Fatal().Err(err).Msg("loading config")
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("opening store")
	}
	defer func() { _ = db.Close() }()

	// Signaling frames carry SDP blobs, which overflow the default message
	// cap comfortably.
	maxSize := cfg.MaxMessageSize
	if maxSize < 65536 {
		maxSize = 65536
	}

	svc := rtc.NewService(db, ws.Options{
		AllowedOrigins:     cfg.AllowedOrigins,
		MaxMessageSize:     maxSize,
		RateBurst:          cfg.RateBurst,
		RateRefillInterval: cfg.RateRefillInterval(),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go svc.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", observability.Instrument("rtcd", logger, httpx.CORS(svc.Routes())))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("rtc service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

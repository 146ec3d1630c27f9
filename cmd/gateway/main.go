package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChunkVault/pkg/common"
	"ChunkVault/pkg/gateway"
	"ChunkVault/pkg/metrics"
	"ChunkVault/pkg/transfer"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default chunkvault.yaml when present)")
	addr := flag.String("addr", "", "listen addr, overrides gateway.addr")
	pretty := flag.Bool("pretty", false, "console log output")
	flag.Parse()

	path := *cfgPath
	if path == "" {
		if _, err := os.Stat(common.DefaultConfigPath); err == nil {
			path = common.DefaultConfigPath
		}
	}
	cfg, err := common.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Gateway.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	logger, err := common.SetupLogger(cfg.LogLevel, *pretty)
	if err != nil {
		log.Fatal().Err(err).Msg("logger")
	}

	store, err := cfg.OpenMeta(logger)
	if err != nil {
		log.Fatal().Err(err).Msg("open metadata store")
	}
	defer store.Close()
	res, closeRes := cfg.Resolver(logger)
	defer closeRes()

	m := metrics.New()
	chunkSize, _ := cfg.ChunkSizeBytes()
	orch, err := transfer.New(store, res, transfer.Options{
		ChunkSize:    chunkSize,
		OutputDir:    cfg.OutputDir,
		ProbeWindow:  cfg.ProbeWindow,
		PendingGrace: cfg.PendingGrace,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator")
	}
	maxBody, _ := cfg.MaxBodyBytes()
	gw := gateway.New(orch, gateway.Options{MaxBodySize: maxBody, Metrics: m, Logger: logger})

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("addr", cfg.Gateway.Addr).Int("chunk_size", chunkSize).Str("meta", cfg.Meta.Backend).
		Str("store", cfg.Store.Backend).Msg("Gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("serve")
	}
}

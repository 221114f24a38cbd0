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

	"github.com/spf13/cobra"

	"lightchat/backend/internal/catalog"
	"lightchat/backend/internal/config"
	"lightchat/backend/internal/httpapi"
	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/openrouter"
	"lightchat/backend/internal/search"
	"lightchat/backend/internal/store"
	"lightchat/backend/internal/turn"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	settings, err := config.LoadEnvFileSettings(cfg.EnvFile)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	models, err := catalog.Load(cfg.ModelsFile)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// The upstream client enforces its own per-attempt timeout.
	upstream := openrouter.NewClient(cfg, settings, &http.Client{}, openrouter.WithLogger(log))

	engine := search.NewRateLimitedEngine(search.NewGoogleEngine(settings, cfg.GoogleEndpoint), cfg.SearchRatePerSec, 1)
	fetcher := search.NewHTTPFetcher(search.FetcherConfig{}, &http.Client{})
	searcher := search.NewService(engine, fetcher, upstream, log)

	turns := turn.New(st, upstream, searcher, turn.Config{
		SearchResults:     cfg.SearchResults,
		SearchConcurrency: cfg.SearchConcurrency,
	}, turn.WithLogger(log))

	handler := httpapi.NewRouter(httpapi.NewHandler(cfg, st, settings, models, turns, log))

	srv := &http.Server{
		Addr:        cfg.ListenAddress(),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Streams run as long as the upstream model keeps producing.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.ListenAddress(), "models", len(models.Models()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
	return nil
}

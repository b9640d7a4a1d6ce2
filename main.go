// Command wishlist-notifier tracks per-user product wishlists, re-prices them
// across retail sources and pushes a message when a price drops.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"

	"wishlist-notifier/bot"
	"wishlist-notifier/compare"
	"wishlist-notifier/config"
	"wishlist-notifier/history"
	"wishlist-notifier/pkg/wishlist"
	"wishlist-notifier/poll"
	"wishlist-notifier/push"
	"wishlist-notifier/scraper"
	"wishlist-notifier/server"
	"wishlist-notifier/sheets"
	"wishlist-notifier/storage"
)

// recordStore is the wishlist table contract shared by every backend.
type recordStore interface {
	EnsureTable(ctx context.Context) error
	Append(ctx context.Context, item *wishlist.TrackedItem) error
	Find(ctx context.Context, owner, query string) (int, bool, error)
	Delete(ctx context.Context, index int) error
	ListByOwner(ctx context.Context, owner string) ([]*wishlist.TrackedItem, error)
	ListAll(ctx context.Context) ([]*wishlist.TrackedItem, error)
	UpdatePriceFields(ctx context.Context, owner, query string, price float64, source string, at time.Time) (bool, error)
}

// messenger pushes and replies to chat messages.
type messenger interface {
	push.Provider
	bot.Replier
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize record store", "backend", cfg.Backend(), "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if err := store.EnsureTable(ctx); err != nil {
		logger.Error("Failed to prepare wishlist table", "backend", cfg.Backend(), "error", err)
		os.Exit(1)
	}
	logger.Info("Record store ready", "backend", cfg.Backend())

	var provider messenger
	if cfg.MockPush() {
		logger.Info("Mock push mode enabled (no LINE_CHANNEL_ACCESS_TOKEN)")
		provider = push.NewMockProvider(logger)
	} else {
		provider = push.NewLineProvider(cfg.LineChannelAccessToken, "", logger)
	}
	sender := push.New(provider, logger)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sourceCfg := scraper.Config{Client: httpClient, Logger: logger, Timeout: cfg.SourceTimeout}
	aggregator := compare.New(logger, sources(sourceCfg)...)

	monitor := poll.New(aggregator, store, sender, history.New(), poll.Config{ItemDelay: cfg.ItemDelay}, logger)
	runner := poll.NewRunner(monitor, logger)

	if cfg.EnableInternalCron {
		if err := runner.Start(cfg.PriceCheckCron, cfg.PriceCheckTZ); err != nil {
			logger.Error("Failed to start price check schedule", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("Internal schedule disabled, trigger sweeps via /api/check-prices")
	}

	srvCfg := &server.Config{
		Runner:        runner,
		Logger:        logger,
		CronSecret:    cfg.CronSecret,
		ChannelSecret: cfg.LineChannelSecret,
	}
	if cfg.LineChannelSecret != "" {
		srvCfg.Chat = bot.New(store, aggregator, provider, sender, logger)
	} else {
		logger.Warn("LINE_CHANNEL_SECRET not set, chat webhook disabled")
	}

	srv := server.New(srvCfg)
	if err := srv.ListenAndServe(ctx, cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}

	runner.Stop()
	logger.Info("Waiting for in-flight sweep to finish")
	runner.Wait()
	logger.Info("Shutdown complete")
}

// openStore builds the record store selected by cfg.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (recordStore, func(), error) {
	noop := func() {}

	switch cfg.Backend() {
	case config.BackendSheets:
		creds := []byte(cfg.GoogleCredentialsJSON)
		if len(creds) == 0 && !isCloudRun(ctx) {
			return nil, noop, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
		}
		// On Cloud Run, empty credentials fall back to the service account.
		svc, err := sheets.NewService(ctx, creds)
		if err != nil {
			return nil, noop, err
		}
		return sheets.New(svc, cfg.SpreadsheetID, logger), noop, nil

	case config.BackendBucket:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		return storage.New(client, cfg.StorageBucket, "", logger), closeFn, nil

	default:
		logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage)
		if err := os.MkdirAll(cfg.LocalStorage, 0o750); err != nil {
			return nil, noop, err
		}
		return storage.New(nil, "", cfg.LocalStorage, logger), noop, nil
	}
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

// sources returns the retail sources in tie-break order: on equal prices
// Shopee wins over momo.
func sources(cfg scraper.Config) []compare.Source {
	return []compare.Source{
		scraper.NewShopee(cfg),
		scraper.NewMomo(cfg),
	}
}

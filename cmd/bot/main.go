package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nantokaworks/guild-gatekeeper/internal/datacache"
	"github.com/nantokaworks/guild-gatekeeper/internal/discordbot"
	"github.com/nantokaworks/guild-gatekeeper/internal/env"
	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	"github.com/nantokaworks/guild-gatekeeper/internal/tablestore"
	"github.com/nantokaworks/guild-gatekeeper/internal/version"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	logger.Info("Starting guild-gatekeeper", zap.String("version", version.String()))

	if err := env.LoadEnv(); err != nil {
		logger.Fatal("Failed to load environment", zap.Error(err))
	}
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	ctx := context.Background()

	store, closeStore, err := setupStore(ctx)
	if err != nil {
		logger.Fatal("Failed to set up backing store", zap.Error(err))
	}
	defer closeStore()

	cache := datacache.New(store)
	if err := cache.LoadAll(ctx); err != nil {
		logger.Fatal("Failed to load data from store", zap.Error(err))
	}

	bot, err := discordbot.New(env.Value.BotToken, cache)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	if err := bot.Start(); err != nil {
		logger.Fatal("Failed to start bot", zap.Error(err))
	}

	logger.Info("Bot is running. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	bot.Stop()
	// Let in-flight store writes land before the process exits.
	cache.Flush()
}

// setupStore picks the backing store: Google Sheets when a spreadsheet and
// credentials are configured, the local SQLite file otherwise.
func setupStore(ctx context.Context) (tablestore.Store, func(), error) {
	if env.UseSheets() {
		creds, err := os.ReadFile(env.Value.GoogleCredentials)
		if err != nil {
			return nil, nil, err
		}
		store, err := tablestore.NewSheetsStore(ctx, creds, env.Value.SpreadsheetID)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Google Sheets store", zap.String("spreadsheet_id", env.Value.SpreadsheetID))
		return store, func() {}, nil
	}

	store, err := tablestore.NewSQLiteStore(env.Value.LocalDBPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using local SQLite store", zap.String("path", env.Value.LocalDBPath))
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("Error closing store", zap.Error(err))
		}
	}, nil
}

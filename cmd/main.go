package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"secadora/internal/configuration"
	"secadora/internal/journal"
	"secadora/internal/quality"
	"secadora/internal/quality/rule"
	"secadora/internal/server"
	"secadora/internal/weighing"
)

// prepareLogger configures the global logger using slog. Takes a string log
// level (e.g. "debug", "info", "warn", "error") and installs a
// JSON-formatted handler on os.Stdout. Falls back to Info for unknown
// levels.
func prepareLogger(level string) {
	var logLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// On errors during configuration loading, rule loading or component
// initialization the application exits with code 1.
func main() {
	configPath := flag.String("config", "/etc/secadora/config.yaml", "configuration file")
	flag.Parse()
	config, err := configuration.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Unable to load configuration", "error", err)
		os.Exit(1)
	}
	prepareLogger(config.Logger.Level)

	appCtx, appCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer appCancel()

	catalog, err := weighing.NewCatalog(config.Operations)
	if err != nil {
		slog.Error("Unable to build operation catalog", "error", err)
		os.Exit(1)
	}

	weighings := weighing.NewRepository(catalog, config.Scale.ReadingsLength, config.Scale.LiveTTL)
	go weighings.Serve()

	rules, err := rule.LoadFromFile(config.Quality.Rules)
	if err != nil {
		slog.Error("Unable to load deduction rules", "error", err)
		os.Exit(1)
	}
	slog.Info("Deduction rules loaded", "count", rules.Len())

	calculator := quality.NewCalculator(rules, config.Quality.CommercialWeight)
	analyses := quality.NewAnalysisRepository()
	orders := weighing.NewOrderRepository()

	var auditJournal journal.Journal = journal.NopJournal{}
	if config.Journal.File != "" {
		auditJournal = journal.NewFileJournal(config.Journal.File, config.Journal.Size, config.Journal.Amount)
	}

	srv := server.NewServer(
		config.Server.Address,
		config.Scale.APIKey,
		weighings,
		orders,
		analyses,
		calculator,
		auditJournal,
	)
	go srv.ListenAndServe()
	slog.Info("Server listening " + config.Server.Address)
	<-appCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer shutdownCancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		slog.Error("Server shutdown", "error", err)
	}
	slog.Info("Server stopped")

	weighings.Stop()
	auditJournal.Close()
}

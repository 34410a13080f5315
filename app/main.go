package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Same-Writer/multi-site-scraper/app/cfg"
	"github.com/Same-Writer/multi-site-scraper/app/export"
	"github.com/Same-Writer/multi-site-scraper/app/extract"
	"github.com/Same-Writer/multi-site-scraper/app/history"
	"github.com/Same-Writer/multi-site-scraper/app/notify"
	"github.com/Same-Writer/multi-site-scraper/app/orchestrator"
	"github.com/Same-Writer/multi-site-scraper/app/search"
	"github.com/Same-Writer/multi-site-scraper/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(appCfg, logger); err != nil {
		logger.Error("Scraper stopped", "error", err)
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg, logger *slog.Logger) error {
	logger.Info("Starting multi-site scraper", "version", appCfg.Version, "config_dir", appCfg.ConfigDir)

	configCache := search.NewConfigCache(appCfg.ConfigDir, logger)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	searches, sites := configCache.GetConfigCount()
	logger.Info("Configuration loaded", "searches", searches, "sites", sites)

	backend, err := openHistoryBackend(appCfg)
	if err != nil {
		return err
	}
	store := history.NewStore(backend, logger)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close history", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.Load(ctx)
	logger.Info("History loaded", "backend", appCfg.HistoryBackend, "path", appCfg.HistoryFile, "entries", store.Len())

	detector := history.NewDetector(store, logger)
	fetcher := extract.NewFetcher(&http.Client{}, appCfg.UserAgent)
	orch := orchestrator.New(
		configCache,
		extract.NewDefaultRegistry(fetcher, logger),
		search.NewFilterer(),
		detector,
		export.NewCSVExporter(appCfg.ExportDir),
		notify.NewDispatcher(&http.Client{}, logger),
		logger,
	)

	if appCfg.Once {
		return runOnce(ctx, appCfg, orch, detector, logger)
	}

	scheduler := tasks.NewScheduler(configCache, orch, detector, tasks.Options{
		SkipInitialRun: appCfg.SkipInitialRun,
		RetentionDays:  appCfg.RetentionDays,
	}, logger)
	scheduler.Start()
	defer scheduler.Stop()

	status := scheduler.Status()
	logger.Info("Scheduler started", "searches", len(status.Scheduled))
	logger.Info("Press Ctrl+C to shutdown gracefully...")

	if appCfg.Watch {
		// Blocks until shutdown.
		if err := configCache.Watch(ctx, scheduler.Reload); err != nil {
			logger.Warn("Configuration watch disabled", "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down scheduler gracefully...")

	return nil
}

func openHistoryBackend(appCfg *cfg.Cfg) (history.Backend, error) {
	if err := os.MkdirAll(filepath.Dir(appCfg.HistoryFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if appCfg.HistoryBackend == cfg.HistoryBackendSQLite {
		backend, err := history.NewSQLiteBackend(appCfg.HistoryFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		return backend, nil
	}
	return history.NewFileBackend(appCfg.HistoryFile), nil
}

func runOnce(ctx context.Context, appCfg *cfg.Cfg, orch *orchestrator.Orchestrator, detector *history.Detector, logger *slog.Logger) error {
	var results []*orchestrator.RunResult
	if appCfg.Search != "" {
		result, err := orch.RunSearch(ctx, appCfg.Search, appCfg.Site)
		if err != nil {
			return err
		}
		results = append(results, result)
	} else {
		results = orch.RunAllEnabledSearches(ctx)
	}

	for _, result := range results {
		if result.Skipped {
			fmt.Printf("%s: skipped (disabled)\n", result.SearchName)
			continue
		}
		fmt.Printf("%s: %d results in %s\n", result.SearchName, result.TotalResults, result.Duration.Round(time.Millisecond))
		for _, site := range result.Sites {
			if site.Err != nil {
				fmt.Printf("  %-20s failed: %v\n", site.Site, site.Err)
				continue
			}
			fmt.Printf("  %-20s extracted=%d passed=%d new=%d changed=%d\n",
				site.Site, site.Extracted, site.Passed, site.New, site.Changed)
			if site.ExportPath != "" {
				fmt.Printf("  %-20s exported to %s\n", "", site.ExportPath)
			}
		}

		if appCfg.SummaryHours > 0 {
			printSummary(detector.Summarize(result.SearchName, appCfg.SummaryHours))
		}
	}

	logger.Debug("One-shot run finished", "searches", len(results))
	return nil
}

func printSummary(summary history.Summary) {
	fmt.Printf("Last %dh for %s: %d tracked, %d new, %d changed\n",
		summary.WithinHours, summary.SearchKey, summary.Total, summary.NewCount, summary.ChangedCount)
	for _, item := range summary.Changed {
		fmt.Printf("  %s\n", item.Record.Title)
		for _, change := range item.Changes {
			fmt.Printf("    %s: %q -> %q\n", change.Field, change.Previous, change.Current)
		}
	}
}

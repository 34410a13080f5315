package tasks

import (
	"context"

	"github.com/Same-Writer/multi-site-scraper/app/orchestrator"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

// TaskSchedulerInterface defines the scheduling operations used by the main
// application. One timer runs per enabled search.
// Example usage:
//
//	scheduler := NewScheduler(configCache, orch, detector, Options{RetentionDays: 30}, logger)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	Reload()
	Status() Status
}

// SearchSource is implemented by search.ConfigCache.
type SearchSource interface {
	GetEnabledSearches() []*search.Definition
}

// SearchRunner is implemented by orchestrator.Orchestrator.
type SearchRunner interface {
	RunSearch(ctx context.Context, searchName, siteFilter string) (*orchestrator.RunResult, error)
}

// HistoryCleaner is implemented by history.Detector.
type HistoryCleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int, error)
}

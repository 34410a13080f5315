package orchestrator

import (
	"context"

	"github.com/Same-Writer/multi-site-scraper/app/extract"
	"github.com/Same-Writer/multi-site-scraper/app/history"
	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

// ConfigSource supplies search definitions, site configurations and the
// credentials overlay. Implemented by search.ConfigCache.
type ConfigSource interface {
	GetSearch(name string) (*search.Definition, error)
	GetEnabledSearches() []*search.Definition
	GetSite(name string) (*search.SiteConfig, error)
	Credentials(site string) map[string]string
}

// ExtractorSource selects the extractor for a site. Implemented by extract.Registry.
type ExtractorSource interface {
	For(site *search.SiteConfig) (extract.Extractor, error)
}

// ChangeDetector is implemented by history.Detector.
type ChangeDetector interface {
	ProcessBatch(ctx context.Context, records []listing.Record, searchKey string, trackedFields []string) (*history.BatchResult, error)
}

// Exporter is implemented by export.CSVExporter.
type Exporter interface {
	Export(records []listing.Record, filenameHint string) (string, error)
}

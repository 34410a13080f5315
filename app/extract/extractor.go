package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

var ErrNoExtractor = errors.New("no extractor registered")

const (
	TypeRSS  = "rss"
	TypeHTML = "html"
)

// Extractor turns one site's search page into listing records, returning at
// most run.MaxListings records when that limit is positive.
type Extractor interface {
	Extract(ctx context.Context, run *search.SiteRun, searchKey string) ([]listing.Record, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, run *search.SiteRun, searchKey string) ([]listing.Record, error)

func (f ExtractorFunc) Extract(ctx context.Context, run *search.SiteRun, searchKey string) ([]listing.Record, error) {
	return f(ctx, run, searchKey)
}

// Registry selects an Extractor for a site. A site-specific registration
// takes precedence over the extractor type named in the site configuration.
type Registry struct {
	mu       sync.RWMutex
	bySite   map[string]Extractor
	byType   map[string]Extractor
	enricher *DetailEnricher
}

func NewRegistry() *Registry {
	return &Registry{
		bySite: make(map[string]Extractor),
		byType: make(map[string]Extractor),
	}
}

// NewDefaultRegistry registers the feed and selector extractors and detail
// enrichment for sites with fetch_details enabled.
func NewDefaultRegistry(fetcher *Fetcher, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.RegisterType(TypeRSS, NewFeedExtractor(fetcher))
	r.RegisterType(TypeHTML, NewSelectorExtractor(fetcher))
	r.SetDetailEnricher(NewDetailEnricher(fetcher, logger))
	return r
}

func (r *Registry) Register(site string, extractor Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySite[normalize(site)] = extractor
}

func (r *Registry) RegisterType(extractorType string, extractor Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[normalize(extractorType)] = extractor
}

func (r *Registry) SetDetailEnricher(enricher *DetailEnricher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enricher = enricher
}

func (r *Registry) For(site *search.SiteConfig) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	extractor, ok := r.bySite[normalize(site.Name)]
	if !ok {
		extractor, ok = r.byType[normalize(site.Extractor)]
	}
	if !ok {
		return nil, fmt.Errorf("%w: site '%s' extractor '%s'", ErrNoExtractor, site.Name, site.Extractor)
	}

	if site.FetchDetails && r.enricher != nil {
		return withDetails(extractor, r.enricher), nil
	}
	return extractor, nil
}

func withDetails(extractor Extractor, enricher *DetailEnricher) Extractor {
	return ExtractorFunc(func(ctx context.Context, run *search.SiteRun, searchKey string) ([]listing.Record, error) {
		records, err := extractor.Extract(ctx, run, searchKey)
		if err != nil {
			return nil, err
		}
		return enricher.Enrich(ctx, records, run.Site), nil
	})
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func limit(records []listing.Record, max int) []listing.Record {
	if max > 0 && len(records) > max {
		return records[:max]
	}
	return records
}

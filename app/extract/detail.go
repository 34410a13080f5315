package extract

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

// DetailEnricher fetches each listing's detail page and fills the
// description and lead image from its readable content.
type DetailEnricher struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

func NewDetailEnricher(fetcher *Fetcher, logger *slog.Logger) *DetailEnricher {
	return &DetailEnricher{fetcher: fetcher, logger: logger}
}

// Enrich never fails; records whose page cannot be read are returned as is.
func (e *DetailEnricher) Enrich(ctx context.Context, records []listing.Record, site *search.SiteConfig) []listing.Record {
	enriched := make([]listing.Record, 0, len(records))
	for _, record := range records {
		if ctx.Err() != nil || record.URL == "" {
			enriched = append(enriched, record)
			continue
		}

		if err := e.enrichRecord(ctx, &record, site); err != nil {
			e.logger.Debug("Detail extraction failed", "site", site.Name, "url", record.URL, "error", err)
		}
		enriched = append(enriched, record)
	}
	return enriched
}

func (e *DetailEnricher) enrichRecord(ctx context.Context, record *listing.Record, site *search.SiteConfig) error {
	data, err := e.fetcher.Fetch(ctx, record.URL, site)
	if err != nil {
		return err
	}

	pageURL, _ := url.Parse(record.URL)
	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return err
	}

	if text := strings.Join(strings.Fields(article.TextContent), " "); text != "" {
		record.Description = text
	}
	if article.Image != "" && !slices.Contains(record.Images, article.Image) {
		record.Images = append(record.Images, article.Image)
		if record.ImageURL == "" {
			record.ImageURL = article.Image
		}
	}

	e.logger.Debug("Detail extracted", "site", site.Name, "url", record.URL, "content_length", len(record.Description))
	return nil
}

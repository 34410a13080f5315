package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Same-Writer/multi-site-scraper/app/history"
	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/notify"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

const (
	maxNewListingsInPayload    = 5
	maxKeywordMatchesInPayload = 3
)

// SiteOutcome summarises one site's part of a run. Err is set when the site
// produced no results because of a failure.
type SiteOutcome struct {
	Site       string
	Extracted  int
	Passed     int
	New        int
	Changed    int
	Unchanged  int
	ExportPath string
	Err        error
}

type RunResult struct {
	SearchName   string
	Results      []listing.Record
	TotalResults int
	Skipped      bool
	Sites        []SiteOutcome
	Duration     time.Duration
}

// Failed returns the outcomes of sites that failed.
func (r *RunResult) Failed() []SiteOutcome {
	var failed []SiteOutcome
	for _, site := range r.Sites {
		if site.Err != nil {
			failed = append(failed, site)
		}
	}
	return failed
}

// Orchestrator runs a search across its sites: extract, filter, detect
// changes, export and notify. Sites are processed one at a time.
type Orchestrator struct {
	configs    ConfigSource
	extractors ExtractorSource
	filterer   *search.Filterer
	detector   ChangeDetector
	exporter   Exporter
	notifier   notify.Notifier
	logger     *slog.Logger
}

func New(configs ConfigSource, extractors ExtractorSource, filterer *search.Filterer, detector ChangeDetector,
	exporter Exporter, notifier notify.Notifier, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		configs:    configs,
		extractors: extractors,
		filterer:   filterer,
		detector:   detector,
		exporter:   exporter,
		notifier:   notifier,
		logger:     logger,
	}
}

// RunSearch runs the named search. When siteFilter is set only that site is
// run. Unknown searches and sites are returned as errors; failures inside a
// site are logged and recorded in the result.
func (o *Orchestrator) RunSearch(ctx context.Context, searchName, siteFilter string) (*RunResult, error) {
	start := time.Now()

	def, err := o.configs.GetSearch(searchName)
	if err != nil {
		return nil, err
	}

	result := &RunResult{SearchName: def.Name}

	if !def.Enabled {
		o.logger.Info("Search disabled, skipping", "search", def.Name)
		result.Skipped = true
		return result, nil
	}

	refs := make([]search.SiteRef, 0, len(def.Sites))
	if siteFilter != "" {
		ref, ok := def.Site(siteFilter)
		if !ok {
			return nil, fmt.Errorf("%w: '%s' in search '%s'", search.ErrSiteNotFound, siteFilter, def.Name)
		}
		if !ref.IsEnabled() {
			o.logger.Info("Site disabled, skipping", "search", def.Name, "site", ref.Site)
			result.Skipped = true
			return result, nil
		}
		refs = append(refs, ref)
	} else {
		for _, ref := range def.Sites {
			if ref.IsEnabled() {
				refs = append(refs, ref)
			} else {
				o.logger.Debug("Site disabled, skipping", "search", def.Name, "site", ref.Site)
			}
		}
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("Search interrupted", "search", def.Name, "error", err)
			break
		}

		records, outcome := o.runSite(ctx, def, ref)
		result.Sites = append(result.Sites, outcome)
		result.Results = append(result.Results, records...)
	}

	result.TotalResults = len(result.Results)
	result.Duration = time.Since(start)

	o.logger.Info("Search completed",
		"search", def.Name,
		"duration", result.Duration,
		"sites", len(result.Sites),
		"failed", len(result.Failed()),
		"total", result.TotalResults)

	return result, nil
}

// RunAllEnabledSearches runs every enabled search in turn and returns the
// results of those that ran.
func (o *Orchestrator) RunAllEnabledSearches(ctx context.Context) []*RunResult {
	defs := o.configs.GetEnabledSearches()
	o.logger.Debug("Running enabled searches", "count", len(defs))

	results := make([]*RunResult, 0, len(defs))
	for _, def := range defs {
		if ctx.Err() != nil {
			break
		}

		result, err := o.RunSearch(ctx, def.Name, "")
		if err != nil {
			o.logger.Error("Search failed", "search", def.Name, "error", err)
			continue
		}
		if !result.Skipped {
			results = append(results, result)
		}
	}
	return results
}

func (o *Orchestrator) runSite(ctx context.Context, def *search.Definition, ref search.SiteRef) (passed []listing.Record, outcome SiteOutcome) {
	outcome.Site = ref.Site

	defer func() {
		if r := recover(); r != nil {
			passed = nil
			outcome.Err = fmt.Errorf("panic: %v", r)
			o.logger.Error("Site run panicked", "search", def.Name, "site", ref.Site, "error", outcome.Err)
		}
	}()

	fail := func(msg string, err error) ([]listing.Record, SiteOutcome) {
		o.logger.Error(msg, "search", def.Name, "site", ref.Site, "error", err)
		outcome.Err = err
		return nil, outcome
	}

	site, err := o.configs.GetSite(ref.Site)
	if err != nil {
		return fail("Site configuration not found, skipping", err)
	}
	site = site.WithCredentials(o.configs.Credentials(site.Name))

	run, fallback, err := search.BuildSiteRun(def, ref, site)
	if err != nil {
		return fail("Failed to build site search", err)
	}
	if fallback {
		o.logger.Warn("Search config not found, using first available",
			"search", def.Name, "site", site.Name, "requested", ref.SearchConfig, "using", run.SearchConfig)
	}

	extractor, err := o.extractors.For(site)
	if err != nil {
		return fail("No extractor for site", err)
	}

	records, err := extractor.Extract(ctx, run, def.Name)
	if err != nil {
		return fail("Extraction failed", err)
	}
	if run.MaxListings > 0 && len(records) > run.MaxListings {
		records = records[:run.MaxListings]
	}
	outcome.Extracted = len(records)

	passed, rejected := o.filterer.Run(records, run.Filters)
	for _, r := range rejected {
		o.logger.Debug("Listing filtered", "search", def.Name, "site", site.Name, "title", r.Record.Title, "reason", r.Reason)
	}
	for i := range passed {
		passed[i].Search = def.Name
		passed[i].Site = site.Name
	}
	outcome.Passed = len(passed)

	batch, err := o.detector.ProcessBatch(ctx, passed, def.Name, def.Fields())
	if err != nil {
		o.logger.Warn("Failed to persist listing history", "search", def.Name, "site", site.Name, "error", err)
	}
	if batch == nil {
		batch = &history.BatchResult{}
	}
	outcome.New = len(batch.New)
	outcome.Changed = len(batch.Changed)
	outcome.Unchanged = len(batch.Unchanged)

	for _, c := range batch.Changed {
		for _, change := range c.Changes {
			o.logger.Info("Listing changed", "search", def.Name, "site", site.Name, "title", c.Record.Title,
				"field", change.Field, "previous", change.Previous, "current", change.Current)
		}
	}

	if len(passed) > 0 && def.ExportEnabled() {
		path, err := o.exporter.Export(passed, exportHint(def, site.Name))
		if err != nil {
			o.logger.Error("Export failed", "search", def.Name, "site", site.Name, "error", err)
		} else {
			outcome.ExportPath = path
			o.logger.Debug("Exported listings", "search", def.Name, "site", site.Name, "path", path, "count", len(passed))
		}
	}

	if def.Notifications.Enabled && len(passed) > 0 {
		label := def.Name + " / " + site.Name
		for _, payload := range buildPayloads(def, site.Name, batch, passed) {
			if err := o.notifier.Notify(ctx, label, payload, def.Notifications); err != nil {
				o.logger.Error("Notification failed", "search", def.Name, "site", site.Name, "trigger", payload.Trigger, "error", err)
			}
		}
	}

	o.logger.Info("Site completed",
		"search", def.Name,
		"site", site.Name,
		"extracted", outcome.Extracted,
		"passed", outcome.Passed,
		"new", outcome.New,
		"changed", outcome.Changed,
		"unchanged", outcome.Unchanged)

	return passed, outcome
}

func buildPayloads(def *search.Definition, site string, batch *history.BatchResult, passed []listing.Record) []notify.Payload {
	var payloads []notify.Payload
	triggers := def.Notifications.Triggers

	if triggers.NewListing && len(batch.New) > 0 {
		payloads = append(payloads, notify.Payload{
			Trigger:  notify.TriggerNewListing,
			Search:   def.Name,
			Site:     site,
			Count:    len(batch.New),
			Listings: head(batch.New, maxNewListingsInPayload),
		})
	}

	if km := triggers.KeywordMatch; km.Enabled && len(km.Keywords) > 0 {
		var matches []listing.Record
		for _, record := range passed {
			if search.MatchesAny(record.Title, km.Keywords) {
				matches = append(matches, record)
			}
		}
		if len(matches) > 0 {
			payloads = append(payloads, notify.Payload{
				Trigger:  notify.TriggerKeywordMatch,
				Search:   def.Name,
				Site:     site,
				Count:    len(matches),
				Listings: head(matches, maxKeywordMatchesInPayload),
			})
		}
	}

	return payloads
}

func exportHint(def *search.Definition, site string) string {
	if def.Export.Filename != "" {
		return def.Export.Filename + "_" + site
	}
	return def.Name + "_" + site
}

func head(records []listing.Record, n int) []listing.Record {
	if len(records) > n {
		return records[:n]
	}
	return records
}

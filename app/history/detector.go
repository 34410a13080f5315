package history

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
)

// ChangedRecord is a listing classified as changed together with the
// changes found in this batch.
type ChangedRecord struct {
	Record  listing.Record
	Changes []Change
}

// BatchResult partitions a batch, preserving input order within each list.
type BatchResult struct {
	New       []listing.Record
	Changed   []ChangedRecord
	Unchanged []listing.Record
}

// ChangedListing is a listing with changes recorded inside a summary window.
type ChangedListing struct {
	Record  listing.Record
	Changes []Change
}

type Summary struct {
	SearchKey    string
	WithinHours  int
	Total        int
	NewCount     int
	ChangedCount int
	Changed      []ChangedListing
}

// Detector classifies listings against the history Store and updates it.
type Detector struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

func NewDetector(store *Store, logger *slog.Logger) *Detector {
	return &Detector{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Classify compares record with the stored snapshot for its identity key and
// updates the history. Changes are only returned for Changed.
func (d *Detector) Classify(record listing.Record, searchKey string, trackedFields []string) (Classification, []Change) {
	now := d.now()
	key := record.Key()

	var (
		class   Classification
		changes []Change
	)

	d.store.update(func(entries map[string]*Entry) {
		id := entryID(searchKey, key)
		entry, ok := entries[id]
		if !ok {
			entries[id] = &Entry{
				SearchKey:     searchKey,
				Key:           key,
				Snapshot:      record,
				FirstSeenAt:   now,
				LastSeenAt:    now,
				LastUpdatedAt: now,
			}
			class = New
			return
		}

		for _, field := range trackedFields {
			if change, differs := diffField(field, entry.Snapshot, record, now); differs {
				changes = append(changes, change)
			}
		}

		entry.LastSeenAt = now
		if len(changes) == 0 {
			class = Unchanged
			return
		}

		entry.Changes = append(entry.Changes, changes...)
		entry.Snapshot = record
		entry.LastUpdatedAt = now
		entry.ChangeCount++
		class = Changed
	})

	return class, changes
}

// ProcessBatch classifies every record and persists the history once. The
// result is returned even when persisting fails.
func (d *Detector) ProcessBatch(ctx context.Context, records []listing.Record, searchKey string, trackedFields []string) (*BatchResult, error) {
	result := &BatchResult{}

	for _, record := range records {
		if record.Key() == "" {
			d.logger.Warn("Skipping listing without identity", "search", searchKey, "site", record.Site)
			continue
		}

		class, changes := d.Classify(record, searchKey, trackedFields)
		switch class {
		case New:
			result.New = append(result.New, record)
		case Changed:
			result.Changed = append(result.Changed, ChangedRecord{Record: record, Changes: changes})
		default:
			result.Unchanged = append(result.Unchanged, record)
		}
	}

	d.logger.Debug("Batch classified", "search", searchKey,
		"new", len(result.New), "changed", len(result.Changed), "unchanged", len(result.Unchanged))

	if err := d.store.Save(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// Summarize reports activity for one search within the last withinHours hours.
func (d *Detector) Summarize(searchKey string, withinHours int) Summary {
	since := d.now().Add(-time.Duration(withinHours) * time.Hour)
	summary := Summary{SearchKey: searchKey, WithinHours: withinHours}

	d.store.update(func(entries map[string]*Entry) {
		for _, entry := range entries {
			if entry.SearchKey != searchKey {
				continue
			}
			summary.Total++

			if !entry.FirstSeenAt.Before(since) {
				summary.NewCount++
			}

			var recent []Change
			for _, change := range entry.Changes {
				if !change.At.Before(since) {
					recent = append(recent, change)
				}
			}
			if len(recent) > 0 {
				summary.ChangedCount++
				summary.Changed = append(summary.Changed, ChangedListing{Record: entry.Snapshot, Changes: recent})
			}
		}
	})

	slices.SortFunc(summary.Changed, func(a, b ChangedListing) int {
		return b.Changes[len(b.Changes)-1].At.Compare(a.Changes[len(a.Changes)-1].At)
	})
	return summary
}

// Cleanup removes entries with no activity in the last retentionDays days and
// returns how many were removed.
func (d *Detector) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	cutoff := d.now().AddDate(0, 0, -retentionDays)

	removed := 0
	d.store.update(func(entries map[string]*Entry) {
		for id, entry := range entries {
			if entry.lastActivity().Before(cutoff) {
				delete(entries, id)
				removed++
			}
		}
	})

	if removed == 0 {
		return 0, nil
	}

	d.logger.Info("Listing history cleaned", "removed", removed, "retention_days", retentionDays)
	if err := d.store.Save(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

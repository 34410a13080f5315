package search

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
)

var wantedMarkers = []string{"wanted", "looking for", "wtb"}

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Rejection records why a listing failed the filters.
type Rejection struct {
	Record listing.Record
	Reason string
}

// Run splits records into those passing spec and those rejected, preserving order.
func (f *Filterer) Run(records []listing.Record, spec FilterSpec) ([]listing.Record, []Rejection) {
	passed := make([]listing.Record, 0, len(records))
	var rejected []Rejection
	for _, record := range records {
		if reason := f.Reason(record, spec); reason != "" {
			rejected = append(rejected, Rejection{Record: record, Reason: reason})
			continue
		}
		passed = append(passed, record)
	}
	return passed, rejected
}

func (f *Filterer) Passes(record listing.Record, spec FilterSpec) bool {
	return f.Reason(record, spec) == ""
}

// Reason returns the first failing check for record, or "" when it passes.
// A listing with no parseable price is never rejected by the price range.
func (f *Filterer) Reason(record listing.Record, spec FilterSpec) string {
	if price, ok := record.PriceValue(); ok {
		if min := spec.PriceRange.Min; min != nil && price < *min {
			return fmt.Sprintf("Excluded by price filter: %d below minimum %d", price, *min)
		}
		if max := spec.PriceRange.Max; max != nil && price > *max {
			return fmt.Sprintf("Excluded by price filter: %d above maximum %d", price, *max)
		}
	}

	title := lower(record.Title)

	if len(spec.Keywords.Include) > 0 && !containsAny(title, spec.Keywords.Include) {
		return fmt.Sprintf("Excluded by title filter: does not contain any of %v", spec.Keywords.Include)
	}

	for _, exclude := range spec.Keywords.Exclude {
		if matches(title, exclude) {
			return fmt.Sprintf("Excluded by title filter: contains '%s'", exclude)
		}
	}

	if spec.ExcludeWanted {
		for _, marker := range wantedMarkers {
			if strings.Contains(title, marker) {
				return fmt.Sprintf("Excluded as wanted ad: contains '%s'", marker)
			}
		}
	}

	return ""
}

// MatchesAny reports whether title contains any of the keywords, ignoring case.
func MatchesAny(title string, keywords []string) bool {
	return containsAny(lower(title), keywords)
}

func containsAny(loweredTitle string, keywords []string) bool {
	for _, keyword := range keywords {
		if matches(loweredTitle, keyword) {
			return true
		}
	}
	return false
}

func matches(loweredTitle, keyword string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return false
	}
	return strings.Contains(loweredTitle, lower(keyword))
}

// Casers carry state and are not safe to share between goroutines.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

package search

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrSearchNotFound = errors.New("search not found")
	ErrSiteNotFound   = errors.New("site config not found")
)

// Search definition types

type Definition struct {
	Name               string        `yaml:"name"` // Defaults to the file name (without extension)
	Enabled            bool          `yaml:"enabled"`
	Frequency          string        `yaml:"frequency"`
	Jitter             *JitterRange  `yaml:"jitter"`
	MaxListingsPerSite int           `yaml:"max_listings_per_site"`
	ExcludeWanted      bool          `yaml:"exclude_wanted"`
	TrackedFields      []string      `yaml:"tracked_fields"`
	Sites              []SiteRef     `yaml:"sites"`
	Filters            FilterSpec    `yaml:"filters"`
	Notifications      Notifications `yaml:"notifications"`
	Export             ExportConfig  `yaml:"export"`
}

type SiteRef struct {
	Site         string `yaml:"site"`
	Enabled      *bool  `yaml:"enabled"` // nil means enabled
	SearchConfig string `yaml:"search_config"`
	URL          string `yaml:"url"`
}

// JitterRange is a randomised pre-run delay in milliseconds.
type JitterRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type FilterSpec struct {
	PriceRange    PriceRange `yaml:"price_range"`
	Keywords      Keywords   `yaml:"keywords"`
	ExcludeWanted bool       `yaml:"-"` // copied from Definition.ExcludeWanted
}

type PriceRange struct {
	Min *int `yaml:"min"`
	Max *int `yaml:"max"`
}

type Keywords struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

type Notifications struct {
	Enabled    bool     `yaml:"enabled"`
	Label      string   `yaml:"label"`
	WebhookURL string   `yaml:"webhook_url"`
	Triggers   Triggers `yaml:"triggers"`
}

type Triggers struct {
	NewListing   bool         `yaml:"new_listing"`
	KeywordMatch KeywordMatch `yaml:"keyword_match"`
}

type KeywordMatch struct {
	Enabled  bool     `yaml:"enabled"`
	Keywords []string `yaml:"keywords"`
}

type ExportConfig struct {
	Enabled  *bool  `yaml:"enabled"` // nil means enabled
	Filename string `yaml:"filename"`
}

// Site configuration types

type SiteConfig struct {
	Name          string                      `yaml:"name"` // Defaults to the file name (without extension)
	Extractor     string                      `yaml:"extractor"`
	BaseURL       string                      `yaml:"base_url"`
	UserAgent     string                      `yaml:"user_agent"`
	Timeout       int                         `yaml:"timeout"` // seconds
	FetchDetails  bool                        `yaml:"fetch_details"`
	Headers       map[string]string           `yaml:"headers"`
	Credentials   map[string]string           `yaml:"-"` // merged from the credentials overlay
	SearchConfigs map[string]SiteSearchConfig `yaml:"search_configs"`
}

type SiteSearchConfig struct {
	URL       string    `yaml:"url"`
	Selectors Selectors `yaml:"selectors"`
}

// Selectors use "css" or "css@attr" syntax.
type Selectors struct {
	Listing     string `yaml:"listing"`
	Title       string `yaml:"title"`
	Price       string `yaml:"price"`
	URL         string `yaml:"url"`
	Image       string `yaml:"image"`
	Location    string `yaml:"location"`
	PostedDate  string `yaml:"posted_date"`
	Description string `yaml:"description"`
	PostingID   string `yaml:"posting_id"`
}

// SiteRun is the per-site search configuration built for one run.
type SiteRun struct {
	Site         *SiteConfig
	SearchConfig string
	URL          string
	Selectors    Selectors
	Filters      FilterSpec
	MaxListings  int
}

const (
	FrequencyHalfHourly = "every-30-minutes"
	FrequencyHourly     = "hourly"
	FrequencyDaily      = "daily"
	FrequencyWeekly     = "weekly"
)

const (
	DefaultMaxListingsPerSite = 50
	DefaultJitterMaxMs        = 3000
)

var DefaultTrackedFields = []string{"title", "price", "description", "images"}

// Interval maps the configured frequency to a duration. Unrecognised values run hourly.
func (d *Definition) Interval() time.Duration {
	switch strings.ToLower(strings.TrimSpace(d.Frequency)) {
	case FrequencyHalfHourly, "30m", "30min", "half-hourly":
		return 30 * time.Minute
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// JitterBounds returns the configured jitter window or the 0-3000ms default.
func (d *Definition) JitterBounds() (time.Duration, time.Duration) {
	if d.Jitter == nil {
		return 0, DefaultJitterMaxMs * time.Millisecond
	}
	lo, hi := d.Jitter.Min, d.Jitter.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	return time.Duration(lo) * time.Millisecond, time.Duration(hi) * time.Millisecond
}

func (d *Definition) Fields() []string {
	if len(d.TrackedFields) == 0 {
		return DefaultTrackedFields
	}
	return d.TrackedFields
}

// FilterSpec returns the filters with search-level flags applied.
func (d *Definition) FilterSpec() FilterSpec {
	spec := d.Filters
	spec.ExcludeWanted = d.ExcludeWanted
	return spec
}

func (d *Definition) ExportEnabled() bool {
	return d.Export.Enabled == nil || *d.Export.Enabled
}

// Site returns the site reference with the given name.
func (d *Definition) Site(name string) (SiteRef, bool) {
	for _, ref := range d.Sites {
		if strings.EqualFold(ref.Site, name) {
			return ref, true
		}
	}
	return SiteRef{}, false
}

func (r SiteRef) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

package search

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

const defaultSearchConfig = "default"

// WithCredentials returns a copy of the site configuration with the
// credentials overlay merged in. Existing keys are overridden.
func (s *SiteConfig) WithCredentials(credentials map[string]string) *SiteConfig {
	merged := *s
	merged.Credentials = make(map[string]string, len(s.Credentials)+len(credentials))
	maps.Copy(merged.Credentials, s.Credentials)
	maps.Copy(merged.Credentials, credentials)
	return &merged
}

// BuildSiteRun combines a search's filters with a site's search
// configuration. When the requested sub-configuration is missing the first
// available one (in name order) is used and fallback is set.
func BuildSiteRun(def *Definition, ref SiteRef, site *SiteConfig) (run *SiteRun, fallback bool, err error) {
	requested := cmp.Or(ref.SearchConfig, defaultSearchConfig)

	name := requested
	sc, ok := site.SearchConfigs[requested]
	if !ok && len(site.SearchConfigs) > 0 {
		name = slices.Sorted(maps.Keys(site.SearchConfigs))[0]
		sc = site.SearchConfigs[name]
		fallback = true
	}

	url := cmp.Or(ref.URL, sc.URL, site.BaseURL)
	if url == "" {
		return nil, fallback, fmt.Errorf("no search URL for site '%s' in search '%s'", site.Name, def.Name)
	}

	return &SiteRun{
		Site:         site,
		SearchConfig: name,
		URL:          url,
		Selectors:    sc.Selectors,
		Filters:      def.FilterSpec(),
		MaxListings:  def.MaxListingsPerSite,
	}, fallback, nil
}

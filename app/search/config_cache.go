package search

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	searchesDir = "searches"
	sitesDir    = "sites"
	configGlob  = "**/*.{yml,yaml}"
)

var credentialsFiles = []string{"credentials.yml", "credentials.yaml"}

// ConfigCache holds search definitions, site configurations and the
// credentials overlay loaded from a config directory:
//
//	<dir>/searches/**/*.yml
//	<dir>/sites/**/*.yml
//	<dir>/credentials.yml (optional)
type ConfigCache struct {
	configDir   string
	logger      *slog.Logger
	searches    map[string]*Definition
	sites       map[string]*SiteConfig
	credentials map[string]map[string]string
	mu          sync.RWMutex
}

func NewConfigCache(configDir string, logger *slog.Logger) *ConfigCache {
	return &ConfigCache{
		configDir:   configDir,
		logger:      logger,
		searches:    make(map[string]*Definition),
		sites:       make(map[string]*SiteConfig),
		credentials: make(map[string]map[string]string),
	}
}

// Run loads every configuration file. The cache is replaced only when all
// files load and validate.
func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.configDir); os.IsNotExist(err) {
		return nil
	}

	searches := make(map[string]*Definition)
	err := cc.walk(searchesDir, func(path, stem string) error {
		def, err := cc.parseSearch(path, stem)
		if err != nil {
			return err
		}
		key := lookupKey(def.Name)
		if _, dup := searches[key]; dup {
			return fmt.Errorf("duplicate search name '%s' in %s", def.Name, path)
		}
		searches[key] = def
		cc.logger.Debug("Configuration loaded", "search", def.Name, "enabled", def.Enabled, "frequency", def.Frequency, "sites", len(def.Sites))
		return nil
	})
	if err != nil {
		return err
	}

	sites := make(map[string]*SiteConfig)
	err = cc.walk(sitesDir, func(path, stem string) error {
		site, err := cc.parseSite(path, stem)
		if err != nil {
			return err
		}
		key := lookupKey(site.Name)
		if _, dup := sites[key]; dup {
			return fmt.Errorf("duplicate site name '%s' in %s", site.Name, path)
		}
		sites[key] = site
		cc.logger.Debug("Configuration loaded", "site", site.Name, "extractor", site.Extractor, "search_configs", len(site.SearchConfigs))
		return nil
	})
	if err != nil {
		return err
	}

	credentials, err := cc.parseCredentials()
	if err != nil {
		return err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.searches = searches
	cc.sites = sites
	cc.credentials = credentials

	return nil
}

func (cc *ConfigCache) GetSearch(name string) (*Definition, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	def, ok := cc.searches[lookupKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrSearchNotFound, name)
	}
	return def, nil
}

// GetSearches returns all search definitions ordered by name.
func (cc *ConfigCache) GetSearches() []*Definition {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	defs := make([]*Definition, 0, len(cc.searches))
	for _, def := range cc.searches {
		defs = append(defs, def)
	}
	slices.SortFunc(defs, func(a, b *Definition) int { return cmp.Compare(a.Name, b.Name) })
	return defs
}

func (cc *ConfigCache) GetEnabledSearches() []*Definition {
	all := cc.GetSearches()
	enabled := make([]*Definition, 0, len(all))
	for _, def := range all {
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}
	return enabled
}

func (cc *ConfigCache) GetSite(name string) (*SiteConfig, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	site, ok := cc.sites[lookupKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrSiteNotFound, name)
	}
	return site, nil
}

// Credentials returns the credentials overlay for a site, or nil.
func (cc *ConfigCache) Credentials(site string) map[string]string {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.credentials[lookupKey(site)]
}

func (cc *ConfigCache) GetConfigCount() (int, int) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.searches), len(cc.sites)
}

// Watch reloads the cache whenever a YAML file under the config directory
// changes and calls onChange after every successful reload. It blocks until
// ctx is cancelled.
func (cc *ConfigCache) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(cc.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", cc.configDir, err)
	}

	// Editors emit bursts of events for a single save.
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if isYAML(event.Name) {
				debounce = time.After(250 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cc.logger.Warn("Config watcher error", "error", err)
		case <-debounce:
			debounce = nil
			if err := cc.Run(); err != nil {
				cc.logger.Error("Failed to reload configuration, keeping previous", "error", err)
				continue
			}
			searches, sites := cc.GetConfigCount()
			cc.logger.Info("Configuration reloaded", "searches", searches, "sites", sites)
			if onChange != nil {
				onChange()
			}
		}
	}
}

func (cc *ConfigCache) walk(subdir string, fn func(path, stem string) error) error {
	root := filepath.Join(cc.configDir, subdir)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	files, err := doublestar.Glob(os.DirFS(root), configGlob)
	if err != nil {
		return fmt.Errorf("failed to find YAML files in %s: %w", root, err)
	}
	slices.Sort(files)

	for _, file := range files {
		path := filepath.Join(root, filepath.FromSlash(file))
		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if err := fn(path, stem); err != nil {
			return fmt.Errorf("error loading %s: %w", path, err)
		}
	}
	return nil
}

func (cc *ConfigCache) parseSearch(path, stem string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	def.Name = cmp.Or(strings.TrimSpace(def.Name), stem)
	def.Frequency = cmp.Or(def.Frequency, FrequencyHourly)
	if def.MaxListingsPerSite == 0 {
		def.MaxListingsPerSite = DefaultMaxListingsPerSite
	}

	if err := validateSearch(&def); err != nil {
		return nil, fmt.Errorf("invalid search %s: %w", path, err)
	}
	return &def, nil
}

func (cc *ConfigCache) parseSite(path, stem string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	site.Name = cmp.Or(strings.TrimSpace(site.Name), stem)
	site.Extractor = strings.ToLower(cmp.Or(strings.TrimSpace(site.Extractor), "rss"))
	if site.Timeout == 0 {
		site.Timeout = 30
	}

	if err := validateSite(&site); err != nil {
		return nil, fmt.Errorf("invalid site %s: %w", path, err)
	}
	return &site, nil
}

func (cc *ConfigCache) parseCredentials() (map[string]map[string]string, error) {
	credentials := make(map[string]map[string]string)
	for _, name := range credentialsFiles {
		path := filepath.Join(cc.configDir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials: %w", err)
		}

		var raw map[string]map[string]string
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse credentials %s: %w", path, err)
		}
		for site, values := range raw {
			credentials[lookupKey(site)] = values
		}
	}
	return credentials, nil
}

func validateSearch(def *Definition) error {
	if def.MaxListingsPerSite < 0 {
		return fmt.Errorf("max listings per site must be non-negative")
	}
	if def.Jitter != nil && (def.Jitter.Min < 0 || def.Jitter.Max < 0) {
		return fmt.Errorf("jitter must be non-negative")
	}
	if len(def.Sites) == 0 {
		return fmt.Errorf("at least one site is required")
	}
	for i, ref := range def.Sites {
		if strings.TrimSpace(ref.Site) == "" {
			return fmt.Errorf("site name is required at index %d", i)
		}
	}

	pr := def.Filters.PriceRange
	if pr.Min != nil && pr.Max != nil && *pr.Min > *pr.Max {
		return fmt.Errorf("price range min %d exceeds max %d", *pr.Min, *pr.Max)
	}

	for i, field := range def.TrackedFields {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("empty tracked field at index %d", i)
		}
	}

	return nil
}

func validateSite(site *SiteConfig) error {
	if site.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if site.Extractor == "html" {
		for name, sc := range site.SearchConfigs {
			if sc.Selectors.Listing == "" || sc.Selectors.Title == "" {
				return fmt.Errorf("search config '%s' requires listing and title selectors", name)
			}
		}
	}
	return nil
}

func lookupKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

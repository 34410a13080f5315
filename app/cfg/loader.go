package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	ConfigDir      string `long:"config-dir" env:"CONFIG_DIR" default:"./config" description:"Directory containing searches/, sites/ and credentials.yml"`
	DataDir        string `long:"data-dir" env:"DATA_DIR" default:"./data" description:"Directory for the listing history"`
	HistoryBackend string `long:"history-backend" env:"HISTORY_BACKEND" default:"json" choice:"json" choice:"sqlite" description:"Listing history storage backend"`
	HistoryFile    string `long:"history-file" env:"HISTORY_FILE" description:"Listing history path (default: <data-dir>/listing_history.json or .db)"`
	ExportDir      string `long:"export-dir" env:"EXPORT_DIR" default:"./output" description:"Directory for CSV exports"`
	RetentionDays  int    `long:"retention-days" env:"RETENTION_DAYS" default:"30" description:"Days of inactivity before a listing is dropped from history"`

	// Scheduling
	SkipInitialRun bool `long:"skip-initial-run" env:"SKIP_INITIAL_RUN" description:"Wait one interval before the first run of each search"`
	Watch          bool `long:"watch" env:"WATCH_CONFIG" description:"Reload searches when configuration files change"`

	// One-shot mode
	Once         bool   `long:"once" description:"Run enabled searches once and exit"`
	Search       string `long:"search" description:"Run only this search (implies --once)"`
	Site         string `long:"site" description:"Run only this site of --search"`
	SummaryHours int    `long:"summary-hours" description:"Print a change summary for the last N hours after a one-shot run"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (compatible; multi-site-scraper/1.0)" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load reads an optional .env file, then parses flags and environment.
// It returns nil, nil when help was requested.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Warning: failed to load .env file: %v\n", err)
	}
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.Site != "" && raw.Search == "" {
		return nil, fmt.Errorf("--site requires --search")
	}
	if raw.RetentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", raw.RetentionDays)
	}

	cfg := &Cfg{
		ConfigDir:      raw.ConfigDir,
		DataDir:        raw.DataDir,
		HistoryBackend: raw.HistoryBackend,
		HistoryFile:    raw.HistoryFile,
		ExportDir:      raw.ExportDir,
		RetentionDays:  raw.RetentionDays,
		SkipInitialRun: raw.SkipInitialRun,
		Watch:          raw.Watch,
		Once:           raw.Once || raw.Search != "",
		Search:         raw.Search,
		Site:           raw.Site,
		SummaryHours:   raw.SummaryHours,
		UserAgent:      raw.UserAgent,
		Timezone:       raw.Timezone,
		Debug:          raw.Debug,
		Version:        GetVersion(),
	}

	if cfg.HistoryFile == "" {
		name := "listing_history.json"
		if cfg.HistoryBackend == HistoryBackendSQLite {
			name = "listing_history.db"
		}
		cfg.HistoryFile = filepath.Join(cfg.DataDir, name)
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
	}
	return nil
}

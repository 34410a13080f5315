package export

import (
	"encoding/csv"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

var header = []string{
	"search", "site", "title", "price", "location", "posted_date", "url",
	"image_url", "posting_id", "description", "images", "attributes", "scraped_at",
}

// CSVExporter writes one timestamped CSV file per export under dir.
type CSVExporter struct {
	dir string
	now func() time.Time
}

func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{dir: dir, now: time.Now}
}

// Export writes records to <dir>/<hint>_<timestamp>.csv and returns the path.
// Nothing is written for an empty batch.
func (e *CSVExporter) Export(records []listing.Record, filenameHint string) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.csv", SanitizeFilename(filenameHint), e.now().Format("20060102_150405"))
	path := filepath.Join(e.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range records {
		row := []string{
			r.Search,
			r.Site,
			r.Title,
			r.Price,
			r.Location,
			r.PostedDate,
			r.URL,
			r.ImageURL,
			r.PostingID,
			r.Description,
			strings.Join(r.Images, " | "),
			formatAttributes(r.Attributes),
			formatTime(r.ScrapedAt),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	return path, nil
}

// SanitizeFilename replaces runs of characters unsafe in file names with "_".
func SanitizeFilename(name string) string {
	cleaned := strings.Trim(unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if cleaned == "" {
		return "listings"
	}
	return cleaned
}

func formatAttributes(attributes map[string]string) string {
	if len(attributes) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(attributes))
	for _, key := range slices.Sorted(maps.Keys(attributes)) {
		pairs = append(pairs, key+"="+attributes[key])
	}
	return strings.Join(pairs, "; ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

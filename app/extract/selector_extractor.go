package extract

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

// SelectorExtractor reads listings from HTML search pages using the CSS
// selectors of the site's search configuration.
type SelectorExtractor struct {
	fetcher *Fetcher
	now     func() time.Time
}

func NewSelectorExtractor(fetcher *Fetcher) *SelectorExtractor {
	return &SelectorExtractor{fetcher: fetcher, now: time.Now}
}

func (e *SelectorExtractor) Extract(ctx context.Context, run *search.SiteRun, searchKey string) ([]listing.Record, error) {
	if run.Selectors.Listing == "" {
		return nil, fmt.Errorf("no listing selector for site '%s'", run.Site.Name)
	}

	data, err := e.fetcher.Fetch(ctx, run.URL, run.Site)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(run.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid search URL: %w", err)
	}

	sel := run.Selectors
	scrapedAt := e.now().UTC()

	var records []listing.Record
	doc.Find(sel.Listing).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if run.MaxListings > 0 && len(records) >= run.MaxListings {
			return false
		}

		record := listing.Record{
			Title:       selectText(s, sel.Title),
			Price:       selectText(s, sel.Price),
			Location:    strings.Trim(selectText(s, sel.Location), "() "),
			PostedDate:  selectText(s, sel.PostedDate),
			Description: selectText(s, sel.Description),
			PostingID:   selectText(s, sel.PostingID),
			URL:         resolve(base, selectText(s, cmp.Or(sel.URL, "a@href"))),
			ImageURL:    resolve(base, selectText(s, cmp.Or(sel.Image, "img@src"))),
			Site:        run.Site.Name,
			Search:      searchKey,
			ScrapedAt:   scrapedAt,
		}
		if record.ImageURL != "" {
			record.Images = []string{record.ImageURL}
		}

		if record.Key() != "" {
			records = append(records, record)
		}
		return true
	})

	return records, nil
}

// selectText evaluates a "css" or "css@attr" selector relative to s. An
// empty css part selects s itself.
func selectText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}

	css, attr, hasAttr := strings.Cut(selector, "@")
	target := s
	if css = strings.TrimSpace(css); css != "" {
		target = s.Find(css).First()
	}

	if hasAttr {
		value, _ := target.Attr(strings.TrimSpace(attr))
		return strings.TrimSpace(value)
	}
	return strings.Join(strings.Fields(target.Text()), " ")
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

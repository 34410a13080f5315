package extract

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

var (
	feedPriceRegexp = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?`)
	tagRegexp       = regexp.MustCompile(`<[^>]*>`)
)

// FeedExtractor reads listings from RSS or Atom search feeds.
type FeedExtractor struct {
	fetcher *Fetcher
	parser  *gofeed.Parser
	now     func() time.Time
}

func NewFeedExtractor(fetcher *Fetcher) *FeedExtractor {
	return &FeedExtractor{
		fetcher: fetcher,
		parser:  gofeed.NewParser(),
		now:     time.Now,
	}
}

func (e *FeedExtractor) Extract(ctx context.Context, run *search.SiteRun, searchKey string) ([]listing.Record, error) {
	data, err := e.fetcher.Fetch(ctx, run.URL, run.Site)
	if err != nil {
		return nil, err
	}

	feed, err := e.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	scrapedAt := e.now().UTC()
	records := make([]listing.Record, 0, len(feed.Items))
	for _, item := range feed.Items {
		record := e.normalizeItem(item)
		record.Site = run.Site.Name
		record.Search = searchKey
		record.ScrapedAt = scrapedAt
		records = append(records, record)
	}

	return limit(records, run.MaxListings), nil
}

func (e *FeedExtractor) normalizeItem(item *gofeed.Item) listing.Record {
	description := strings.TrimSpace(html.UnescapeString(tagRegexp.ReplaceAllString(item.Description, " ")))

	record := listing.Record{
		PostingID:   cmp.Or(item.GUID, item.Link),
		Title:       strings.TrimSpace(item.Title),
		URL:         item.Link,
		Description: strings.Join(strings.Fields(description), " "),
		Price:       cmp.Or(feedPriceRegexp.FindString(html.UnescapeString(item.Title)), feedPriceRegexp.FindString(description)),
	}

	if item.PublishedParsed != nil {
		record.PostedDate = item.PublishedParsed.UTC().Format(time.DateOnly)
	} else {
		record.PostedDate = item.Published
	}

	if item.Image != nil {
		record.ImageURL = item.Image.URL
	}
	for _, enclosure := range item.Enclosures {
		if enclosure != nil && enclosure.URL != "" && strings.HasPrefix(enclosure.Type, "image/") {
			record.Images = append(record.Images, enclosure.URL)
		}
	}
	if record.ImageURL == "" && len(record.Images) > 0 {
		record.ImageURL = record.Images[0]
	}

	attributes := make(map[string]string)
	if len(item.Categories) > 0 {
		attributes["categories"] = strings.Join(item.Categories, ", ")
	}
	if item.Author != nil && item.Author.Name != "" {
		attributes["author"] = item.Author.Name
	}
	if len(attributes) > 0 {
		record.Attributes = attributes
	}

	return record
}

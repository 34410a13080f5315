package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFetcher() *Fetcher {
	return NewFetcher(http.DefaultClient, "multi-site-scraper/test")
}

const feedBody = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>craigslist | bmw z3</title>
    <link>https://sfbay.craigslist.org</link>
    <item>
      <title>1999 BMW Z3 Roadster - $15,000</title>
      <link>https://sfbay.craigslist.org/cto/d/z3/1001.html</link>
      <description>&lt;p&gt;Clean title, &lt;b&gt;manual&lt;/b&gt;&lt;/p&gt;</description>
      <guid>1001</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <category>cars+trucks</category>
      <enclosure url="https://images.example.com/1001.jpg" type="image/jpeg" length="1"/>
    </item>
    <item>
      <title>BMW Z3 hardtop</title>
      <link>https://sfbay.craigslist.org/pts/d/z3/1002.html</link>
      <description>Asking $800 firm</description>
      <guid>1002</guid>
    </item>
    <item>
      <title>Z3 coupe</title>
      <link>https://sfbay.craigslist.org/cto/d/z3/1003.html</link>
    </item>
  </channel>
</rss>`

func TestFeedExtractor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedBody)
	}))
	defer server.Close()

	run := &search.SiteRun{Site: &search.SiteConfig{Name: "craigslist"}, URL: server.URL}
	records, err := NewFeedExtractor(testFetcher()).Extract(context.Background(), run, "BMW Z3")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	first := records[0]
	if first.Price != "$15,000" {
		t.Errorf("Expected price '$15,000' from title, got '%s'", first.Price)
	}
	if first.Description != "Clean title, manual" {
		t.Errorf("Expected description without markup, got '%s'", first.Description)
	}
	if first.PostedDate != "2023-07-03" {
		t.Errorf("Expected posted date '2023-07-03', got '%s'", first.PostedDate)
	}
	if first.ImageURL != "https://images.example.com/1001.jpg" || len(first.Images) != 1 {
		t.Errorf("Expected image from enclosure, got '%s' %v", first.ImageURL, first.Images)
	}
	if first.Attributes["categories"] != "cars+trucks" {
		t.Errorf("Expected categories attribute, got %v", first.Attributes)
	}
	if first.Site != "craigslist" || first.Search != "BMW Z3" || first.ScrapedAt.IsZero() {
		t.Errorf("Expected record to be tagged with site, search and scrape time, got %+v", first)
	}

	if records[1].Price != "$800" {
		t.Errorf("Expected price '$800' from description, got '%s'", records[1].Price)
	}
	if records[2].Price != "" {
		t.Errorf("Expected no price, got '%s'", records[2].Price)
	}
	if records[2].PostingID != "https://sfbay.craigslist.org/cto/d/z3/1003.html" {
		t.Errorf("Expected posting ID to fall back to link, got '%s'", records[2].PostingID)
	}
}

func TestFeedExtractorMaxListings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedBody)
	}))
	defer server.Close()

	run := &search.SiteRun{Site: &search.SiteConfig{Name: "craigslist"}, URL: server.URL, MaxListings: 2}
	records, err := NewFeedExtractor(testFetcher()).Extract(context.Background(), run, "BMW Z3")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(records))
	}
}

func TestFeedExtractorInvalidFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not a feed")
	}))
	defer server.Close()

	run := &search.SiteRun{Site: &search.SiteConfig{Name: "craigslist"}, URL: server.URL}
	if _, err := NewFeedExtractor(testFetcher()).Extract(context.Background(), run, "BMW Z3"); err == nil {
		t.Errorf("Expected error for invalid feed")
	}
}

const searchPage = `<html><body>
<ul>
  <li class="result" data-pid="2001">
    <a href="/cto/d/z3/2001.html"><span class="title">BMW Z3 2.8</span></a>
    <span class="price">$12,500</span>
    <span class="hood"> (Oakland) </span>
    <img src="/img/2001.jpg">
  </li>
  <li class="result" data-pid="2002">
    <a href="https://other.example.com/2002"><span class="title">BMW Z3 M Roadster</span></a>
    <span class="price">$28,000</span>
  </li>
  <li class="result"></li>
  <li class="result" data-pid="2004">
    <a href="/cto/d/z3/2004.html"><span class="title">Z3 project</span></a>
  </li>
</ul>
</body></html>`

func selectorRun(url string, max int) *search.SiteRun {
	return &search.SiteRun{
		Site: &search.SiteConfig{Name: "craigslist", Extractor: TypeHTML},
		URL:  url + "/search/cta?query=z3",
		Selectors: search.Selectors{
			Listing:   "li.result",
			Title:     ".title",
			Price:     ".price",
			Location:  ".hood",
			PostingID: "@data-pid",
		},
		MaxListings: max,
	}
}

func TestSelectorExtractor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPage)
	}))
	defer server.Close()

	records, err := NewSelectorExtractor(testFetcher()).Extract(context.Background(), selectorRun(server.URL, 0), "BMW Z3")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// The empty listing has no identity and is dropped.
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	first := records[0]
	if first.Title != "BMW Z3 2.8" {
		t.Errorf("Expected title 'BMW Z3 2.8', got '%s'", first.Title)
	}
	if first.Price != "$12,500" {
		t.Errorf("Expected price '$12,500', got '%s'", first.Price)
	}
	if first.Location != "Oakland" {
		t.Errorf("Expected location 'Oakland', got '%s'", first.Location)
	}
	if first.PostingID != "2001" {
		t.Errorf("Expected posting ID '2001', got '%s'", first.PostingID)
	}
	if first.URL != server.URL+"/cto/d/z3/2001.html" {
		t.Errorf("Expected resolved URL, got '%s'", first.URL)
	}
	if first.ImageURL != server.URL+"/img/2001.jpg" {
		t.Errorf("Expected resolved image URL, got '%s'", first.ImageURL)
	}
	if records[1].URL != "https://other.example.com/2002" {
		t.Errorf("Expected absolute URL kept, got '%s'", records[1].URL)
	}
}

func TestSelectorExtractorMaxListings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPage)
	}))
	defer server.Close()

	records, err := NewSelectorExtractor(testFetcher()).Extract(context.Background(), selectorRun(server.URL, 1), "BMW Z3")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(records))
	}
}

func TestSelectorExtractorRequiresListingSelector(t *testing.T) {
	run := &search.SiteRun{Site: &search.SiteConfig{Name: "x"}, URL: "http://127.0.0.1:1"}
	if _, err := NewSelectorExtractor(testFetcher()).Extract(context.Background(), run, "s"); err == nil {
		t.Errorf("Expected error without a listing selector")
	}
}

func TestFetcherHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	site := &search.SiteConfig{
		Name:        "ksl",
		UserAgent:   "custom-agent",
		Headers:     map[string]string{"Accept-Language": "en-US"},
		Credentials: map[string]string{"token": "abc", "cookie": "session=1"},
	}

	data, err := testFetcher().Fetch(context.Background(), server.URL, site)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("Expected body 'ok', got '%s'", data)
	}
	if got.Get("User-Agent") != "custom-agent" {
		t.Errorf("Expected site user agent, got '%s'", got.Get("User-Agent"))
	}
	if got.Get("Accept-Language") != "en-US" {
		t.Errorf("Expected custom header, got '%s'", got.Get("Accept-Language"))
	}
	if got.Get("Authorization") != "Bearer abc" {
		t.Errorf("Expected bearer token, got '%s'", got.Get("Authorization"))
	}
	if got.Get("Cookie") != "session=1" {
		t.Errorf("Expected cookie, got '%s'", got.Get("Cookie"))
	}
}

func TestFetcherDefaultUserAgentAndBasicAuth(t *testing.T) {
	var agent, user, pass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.UserAgent()
		user, pass, _ = r.BasicAuth()
	}))
	defer server.Close()

	site := &search.SiteConfig{Name: "ksl", Credentials: map[string]string{"username": "me", "password": "pw"}}
	if _, err := testFetcher().Fetch(context.Background(), server.URL, site); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if agent != "multi-site-scraper/test" {
		t.Errorf("Expected default user agent, got '%s'", agent)
	}
	if user != "me" || pass != "pw" {
		t.Errorf("Expected basic auth me/pw, got %s/%s", user, pass)
	}
}

func TestFetcherHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := testFetcher().Fetch(context.Background(), server.URL, &search.SiteConfig{Name: "x"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Expected HTTP 403 error, got: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewDefaultRegistry(testFetcher(), testLogger())

	custom := ExtractorFunc(func(ctx context.Context, run *search.SiteRun, searchKey string) ([]listing.Record, error) {
		return []listing.Record{{Title: "custom"}}, nil
	})
	registry.Register("Facebook", custom)

	extractor, err := registry.For(&search.SiteConfig{Name: "facebook", Extractor: TypeRSS})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	records, _ := extractor.Extract(context.Background(), &search.SiteRun{}, "s")
	if len(records) != 1 || records[0].Title != "custom" {
		t.Errorf("Expected site-specific extractor to take precedence")
	}

	extractor, err = registry.For(&search.SiteConfig{Name: "ebay", Extractor: "HTML"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := extractor.(*SelectorExtractor); !ok {
		t.Errorf("Expected selector extractor for html sites, got %T", extractor)
	}

	_, err = registry.For(&search.SiteConfig{Name: "ksl", Extractor: "browser"})
	if !errors.Is(err, ErrNoExtractor) {
		t.Errorf("Expected ErrNoExtractor, got: %v", err)
	}
}

const detailPage = `<!DOCTYPE html>
<html>
<head>
  <title>1999 BMW Z3</title>
  <meta property="og:image" content="https://images.example.com/detail.jpg">
</head>
<body>
  <nav>Home | Cars | Post</nav>
  <article>
    <h1>1999 BMW Z3 Roadster</h1>
    <p>Garage kept since new with full service records from the original dealer. The soft top was replaced two years ago and has no tears or fading.</p>
    <p>Five speed manual transmission with a recent clutch. New tires, new battery and fresh fluids throughout. Interior leather is in excellent condition.</p>
    <p>Clean title in hand. Serious buyers only, no trades. Happy to meet at a local shop for a pre-purchase inspection at your expense.</p>
  </article>
  <footer>Copyright</footer>
</body>
</html>`

func TestRegistryFetchDetails(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/detail/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage)
	})
	mux.HandleFunc("/detail/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	registry := NewRegistry()
	registry.SetDetailEnricher(NewDetailEnricher(testFetcher(), testLogger()))
	registry.Register("ksl", ExtractorFunc(func(ctx context.Context, run *search.SiteRun, searchKey string) ([]listing.Record, error) {
		return []listing.Record{
			{URL: server.URL + "/detail/1", Title: "Z3", Description: "short"},
			{URL: server.URL + "/detail/missing", Title: "Gone", Description: "kept"},
		}, nil
	}))

	site := &search.SiteConfig{Name: "ksl", FetchDetails: true}
	extractor, err := registry.For(site)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	records, err := extractor.Extract(context.Background(), &search.SiteRun{Site: site}, "s")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if !strings.Contains(records[0].Description, "Garage kept") {
		t.Errorf("Expected description from detail page, got '%s'", records[0].Description)
	}
	if records[1].Description != "kept" {
		t.Errorf("Expected record with unreadable detail page untouched, got '%s'", records[1].Description)
	}
}

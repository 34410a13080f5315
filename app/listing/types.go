package listing

import (
	"cmp"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one observed instance of a marketplace listing.
type Record struct {
	PostingID   string            `json:"posting_id,omitempty"`
	Title       string            `json:"title"`
	Price       string            `json:"price,omitempty"` // as rendered by the site, e.g. "$15,000"
	Location    string            `json:"location,omitempty"`
	PostedDate  string            `json:"posted_date,omitempty"`
	URL         string            `json:"url,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	Images      []string          `json:"images,omitempty"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`

	Site      string    `json:"site,omitempty"`
	Search    string    `json:"search,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Key returns the identity key used to recognise the same listing across runs.
// A listing whose URL changes between runs gets a new key.
func (r Record) Key() string {
	return cmp.Or(
		strings.TrimSpace(r.URL),
		strings.TrimSpace(r.PostingID),
		strings.TrimSpace(r.Title),
	)
}

// PriceValue returns the price in whole units, or false when the price is unknown.
func (r Record) PriceValue() (int, bool) {
	d, ok := ParsePrice(r.Price)
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}

// Field returns the string value of a named field. List fields are reported
// through the second return value and isList.
func (r Record) Field(name string) (value string, list []string, isList bool) {
	switch strings.ToLower(name) {
	case "title":
		return r.Title, nil, false
	case "price":
		return r.Price, nil, false
	case "description":
		return r.Description, nil, false
	case "location":
		return r.Location, nil, false
	case "posted_date", "posteddate":
		return r.PostedDate, nil, false
	case "url", "detail_url", "detailurl":
		return r.URL, nil, false
	case "image_url", "imageurl":
		return r.ImageURL, nil, false
	case "posting_id", "postingid":
		return r.PostingID, nil, false
	case "images":
		return "", r.Images, true
	default:
		return r.Attributes[name], nil, false
	}
}

var priceRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParsePrice extracts the leading numeric run of a rendered price, ignoring
// currency symbols and thousands separators.
func ParsePrice(raw string) (decimal.Decimal, bool) {
	match := priceRegexp.FindString(raw)
	if match == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(strings.ReplaceAll(match, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

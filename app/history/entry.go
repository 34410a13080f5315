package history

import (
	"time"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
)

const DocumentVersion = 1

type Classification string

const (
	New       Classification = "new"
	Changed   Classification = "changed"
	Unchanged Classification = "unchanged"
)

// Entry is the persisted state of one listing within one search.
type Entry struct {
	SearchKey     string         `json:"search_key"`
	Key           string         `json:"key"`
	Snapshot      listing.Record `json:"snapshot"`
	FirstSeenAt   time.Time      `json:"first_seen_at"`
	LastSeenAt    time.Time      `json:"last_seen_at"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
	ChangeCount   int            `json:"change_count"`
	Changes       []Change       `json:"changes,omitempty"`
}

// Change is one detected field mutation. Values are string renderings.
type Change struct {
	Field    string    `json:"field"`
	Previous string    `json:"previous"`
	Current  string    `json:"current"`
	At       time.Time `json:"at"`
}

// Document is the whole persisted history.
type Document struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Entries   map[string]*Entry `json:"entries"`
}

func NewDocument() *Document {
	return &Document{Version: DocumentVersion, Entries: make(map[string]*Entry)}
}

func entryID(searchKey, key string) string {
	return searchKey + "::" + key
}

// lastActivity returns the most recent activity timestamp of the entry.
func (e *Entry) lastActivity() time.Time {
	switch {
	case !e.LastSeenAt.IsZero():
		return e.LastSeenAt
	case !e.LastUpdatedAt.IsZero():
		return e.LastUpdatedAt
	default:
		return e.FirstSeenAt
	}
}

package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
)

func sampleDocument() *Document {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := NewDocument()
	doc.UpdatedAt = at
	doc.Entries[entryID("bmw-z3", "https://example.com/1")] = &Entry{
		SearchKey:     "bmw-z3",
		Key:           "https://example.com/1",
		Snapshot:      listing.Record{URL: "https://example.com/1", Title: "Z3", Price: "$9,000", Images: []string{"a.jpg"}},
		FirstSeenAt:   at,
		LastSeenAt:    at.Add(time.Hour),
		LastUpdatedAt: at.Add(time.Hour),
		ChangeCount:   1,
		Changes:       []Change{{Field: "price", Previous: "$9,500", Current: "$9,000", At: at.Add(time.Hour)}},
	}
	return doc
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "missing.json")), testLogger())
	store.Load(context.Background())

	assert.Equal(t, 0, store.Len())
}

func TestStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store := NewStore(NewFileBackend(path), testLogger())
	store.Load(context.Background())

	assert.Equal(t, 0, store.Len())

	// A corrupt document is replaced on the next save.
	require.NoError(t, store.Save(context.Background()))
	doc, err := NewFileBackend(path).Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Entries)
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	backend := NewFileBackend(path)

	require.NoError(t, backend.Write(ctx, sampleDocument()))

	doc, err := backend.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, DocumentVersion, doc.Version)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, sampleDocument().Entries, doc.Entries)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), tempFilePrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer backend.Close()

	empty, err := backend.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)

	require.NoError(t, backend.Write(ctx, sampleDocument()))

	doc, err := backend.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleDocument().Entries, doc.Entries)
	assert.True(t, doc.UpdatedAt.Equal(sampleDocument().UpdatedAt))

	// Writes replace the whole table.
	require.NoError(t, backend.Write(ctx, NewDocument()))
	doc, err = backend.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Entries)
}

func TestSQLiteBackendWithDetector(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	backend, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	store := NewStore(backend, testLogger())
	store.Load(ctx)

	_, err = NewDetector(store, testLogger()).ProcessBatch(ctx, []listing.Record{z3("$15,000")}, "bmw-z3", defaultFields)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	backend, err = NewSQLiteBackend(path)
	require.NoError(t, err)
	defer backend.Close()

	reloaded := NewStore(backend, testLogger())
	reloaded.Load(ctx)

	class, changes := NewDetector(reloaded, testLogger()).Classify(z3("$14,500"), "bmw-z3", defaultFields)
	assert.Equal(t, Changed, class)
	require.Len(t, changes, 1)
	assert.Equal(t, "$15,000", changes[0].Previous)
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	first, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer second.Close()

	version, dirty, err := RunMigrations(second.db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

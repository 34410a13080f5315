package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteBackend stores history entries as indexed rows. Every Write replaces
// the table contents in a single transaction.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, _, err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteBackend{db: db}, nil
}

// RunMigrations applies all pending migrations and returns version info.
func RunMigrations(db *sql.DB) (uint, bool, error) {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

func (b *SQLiteBackend) Read(ctx context.Context) (*Document, error) {
	doc := NewDocument()

	var updatedAt string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM history_meta WHERE key = 'updated_at'`).Scan(&updatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read history metadata: %w", err)
	}
	if updatedAt != "" {
		doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT search_key, identity_key, snapshot, first_seen_at, last_seen_at,
			last_updated_at, change_count, changes
		FROM history_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry                           Entry
			snapshot, changes               string
			firstSeen, lastSeen, lastUpdate string
		)
		if err := rows.Scan(&entry.SearchKey, &entry.Key, &snapshot, &firstSeen, &lastSeen,
			&lastUpdate, &entry.ChangeCount, &changes); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		if err := json.Unmarshal([]byte(snapshot), &entry.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot for %s: %w", entry.Key, err)
		}
		if err := json.Unmarshal([]byte(changes), &entry.Changes); err != nil {
			return nil, fmt.Errorf("failed to decode changes for %s: %w", entry.Key, err)
		}
		entry.FirstSeenAt = parseTime(firstSeen)
		entry.LastSeenAt = parseTime(lastSeen)
		entry.LastUpdatedAt = parseTime(lastUpdate)

		doc.Entries[entryID(entry.SearchKey, entry.Key)] = &entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history entries: %w", err)
	}

	return doc, nil
}

func (b *SQLiteBackend) Write(ctx context.Context, doc *Document) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries`); err != nil {
		return fmt.Errorf("failed to clear history entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_entries (
			id, search_key, identity_key, snapshot, first_seen_at, last_seen_at,
			last_updated_at, change_count, changes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, entry := range doc.Entries {
		snapshot, err := json.Marshal(entry.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot for %s: %w", entry.Key, err)
		}
		changes, err := json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("failed to encode changes for %s: %w", entry.Key, err)
		}
		if entry.Changes == nil {
			changes = []byte("[]")
		}

		_, err = stmt.ExecContext(ctx, id, entry.SearchKey, entry.Key, string(snapshot),
			formatTime(entry.FirstSeenAt), formatTime(entry.LastSeenAt), formatTime(entry.LastUpdatedAt),
			entry.ChangeCount, string(changes))
		if err != nil {
			return fmt.Errorf("failed to store history entry %s: %w", entry.Key, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history_meta (key, value) VALUES ('updated_at', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to store history metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

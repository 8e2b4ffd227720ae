// Package statecache implements the vault's optional, regenerable
// belief-state cache (spec §3.5: "state/ ... a regenerable cache — never
// authoritative"). It is grounded on two teacher pieces: the query
// shape of internal/ledger/db.go (WAL-mode SQLite, narrow single-purpose
// queries) and the migration-runner pattern of the correlator-io
// retrieval example's migrations/runner.go, substituting a sqlite3
// database driver for that example's postgres one.
package statecache

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/provara/provara/internal/reducer"
	"github.com/provara/provara/internal/verrors"
)

// Cache wraps a SQLite-backed projection of the reducer's belief state.
// Every write is a full Refresh from an authoritative *reducer.State;
// the cache never accumulates incremental writes of its own.
type Cache struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the cache database at path,
// enabling WAL mode for concurrent readers the way the teacher's
// internal/ledger.NewDB does.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, verrors.New(verrors.CodeVaultStructure, "opening state cache: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, verrors.New(verrors.CodeVaultStructure, "enabling WAL mode: %v", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return verrors.New(verrors.CodeVaultStructure, "creating sqlite migration driver: %v", err)
	}
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return verrors.New(verrors.CodeVaultStructure, "loading embedded migrations: %v", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return verrors.New(verrors.CodeVaultStructure, "creating migrate instance: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return verrors.New(verrors.CodeVaultStructure, "applying state cache migrations: %v", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error { return c.db.Close() }

// Refresh discards the cache's current contents and repopulates it from
// state in a single transaction, so a reader never observes a half
// written cache.
func (c *Cache) Refresh(state *reducer.State) error {
	tx, err := c.db.Begin()
	if err != nil {
		return verrors.New(verrors.CodeVaultStructure, "beginning cache refresh: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM belief_entries"); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "clearing belief_entries: %v", err)
	}
	if _, err := tx.Exec("DELETE FROM cache_metadata"); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "clearing cache_metadata: %v", err)
	}

	insert := `INSERT INTO belief_entries
		(namespace, key, value_json, confidence, actor, source_event_id, timestamp_utc, retracted, superseded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for ns, entries := range map[string]map[string]reducer.Entry{
		"canonical": state.Canonical,
		"local":     state.Local,
		"archived":  state.Archived,
	} {
		for key, e := range entries {
			valueJSON, err := json.Marshal(e.Value)
			if err != nil {
				return verrors.New(verrors.CodeCanonicalFormat, "encoding cached value for %s: %v", key, err)
			}
			retracted := 0
			if e.Retracted {
				retracted = 1
			}
			if _, err := tx.Exec(insert, ns, key, string(valueJSON), e.Confidence, e.Actor, e.SourceEventID, e.Timestamp, retracted, e.SupersededBy); err != nil {
				return verrors.New(verrors.CodeVaultStructure, "inserting belief entry %s/%s: %v", ns, key, err)
			}
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO cache_metadata (id, event_count, last_event_id, current_epoch, state_hash, refreshed_at)
		 VALUES (1, ?, ?, ?, ?, datetime('now'))`,
		state.Metadata.EventCount, state.Metadata.LastEventID, state.Metadata.CurrentEpoch, state.Metadata.StateHash,
	); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "inserting cache metadata: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "committing cache refresh: %v", err)
	}
	return nil
}

// Stats is the read side the CLI's stats command surfaces,
// generalized from the teacher's GetRunStats/GetGlobalStats queries.
type Stats struct {
	EventCount      int
	LastEventID     string
	CanonicalCount  int
	LocalCount      int
	ArchivedCount   int
	StateHash       string
}

// Stats reads the most recent refresh's summary counts.
func (c *Cache) Stats() (*Stats, error) {
	var s Stats
	row := c.db.QueryRow("SELECT event_count, last_event_id, state_hash FROM cache_metadata WHERE id = 1")
	if err := row.Scan(&s.EventCount, &s.LastEventID, &s.StateHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Stats{}, nil
		}
		return nil, verrors.New(verrors.CodeVaultStructure, "reading cache metadata: %v", err)
	}

	counts := map[string]*int{
		"canonical": &s.CanonicalCount,
		"local":     &s.LocalCount,
		"archived":  &s.ArchivedCount,
	}
	for ns, dest := range counts {
		if err := c.db.QueryRow("SELECT COUNT(*) FROM belief_entries WHERE namespace = ?", ns).Scan(dest); err != nil {
			return nil, verrors.New(verrors.CodeVaultStructure, "counting %s entries: %v", ns, err)
		}
	}
	return &s, nil
}

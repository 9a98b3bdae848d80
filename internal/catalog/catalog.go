// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog persists article records and corpus merge history in a
// local SQLite database. Unknown identifier fields are stored as NULL.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/medline-harvest/pkg/types"
)

// Store manages the catalog database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the catalog database at cfg.Path and creates the
// schema if it does not exist.
func Open(cfg types.CatalogConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = types.DefaultPipelineConfig().Catalog.Path
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			position INTEGER PRIMARY KEY,
			pmid TEXT,
			doi TEXT,
			pmcid TEXT,
			extra TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_pmid ON records(pmid)`,
		`CREATE TABLE IF NOT EXISTS merges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			archive TEXT NOT NULL,
			chunk INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			identifiers INTEGER NOT NULL,
			bytes_before INTEGER NOT NULL,
			bytes_after INTEGER NOT NULL,
			merged_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// ImportRecords replaces the catalog's records with recs.
func (s *Store) ImportRecords(ctx context.Context, recs []*types.Record) error {
	return s.writeRecords(ctx, recs, true)
}

// SaveRecords inserts or updates recs by position, leaving other records
// in place.
func (s *Store) SaveRecords(ctx context.Context, recs []*types.Record) error {
	return s.writeRecords(ctx, recs, false)
}

func (s *Store) writeRecords(ctx context.Context, recs []*types.Record, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
			return fmt.Errorf("clearing records: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (position, pmid, doi, pmcid, extra)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(position) DO UPDATE SET
			pmid=excluded.pmid, doi=excluded.doi, pmcid=excluded.pmcid, extra=excluded.extra`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if rec == nil {
			continue
		}
		extra, err := encodeExtra(rec.Extra)
		if err != nil {
			return fmt.Errorf("encoding record %d: %w", rec.Position, err)
		}
		_, err = stmt.ExecContext(ctx, rec.Position,
			nullable(rec.PMID), nullable(rec.DOI), nullable(rec.PMCID), extra)
		if err != nil {
			return fmt.Errorf("writing record %d: %w", rec.Position, err)
		}
	}
	return tx.Commit()
}

// Records returns all records ordered by position.
func (s *Store) Records(ctx context.Context) ([]*types.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, pmid, doi, pmcid, extra FROM records ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var recs []*types.Record
	for rows.Next() {
		var (
			rec              types.Record
			pmid, doi, pmcid sql.NullString
			extra            sql.NullString
		)
		if err := rows.Scan(&rec.Position, &pmid, &doi, &pmcid, &extra); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.PMID = fromNullable(pmid)
		rec.DOI = fromNullable(doi)
		rec.PMCID = fromNullable(pmcid)
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &rec.Extra); err != nil {
				return nil, fmt.Errorf("decoding extra fields of record %d: %w", rec.Position, err)
			}
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// KnownIDs returns the distinct known identifiers of type t in position
// order.
func (s *Store) KnownIDs(ctx context.Context, t types.IDType) ([]string, error) {
	var column string
	switch t {
	case types.IDPMID:
		column = "pmid"
	case types.IDDOI:
		column = "doi"
	case types.IDPMCID:
		column = "pmcid"
	default:
		return nil, fmt.Errorf("unknown identifier type %q", t)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+` FROM records WHERE `+column+` IS NOT NULL ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying %s identifiers: %w", t, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning identifier: %w", err)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// MergeEntry is one recorded corpus merge.
type MergeEntry struct {
	Archive     string    `json:"archive" yaml:"archive"`
	Chunk       int       `json:"chunk" yaml:"chunk"` // one-based
	Chunks      int       `json:"chunks" yaml:"chunks"`
	Identifiers int       `json:"identifiers" yaml:"identifiers"`
	BytesBefore int       `json:"bytes_before" yaml:"bytes_before"`
	BytesAfter  int       `json:"bytes_after" yaml:"bytes_after"`
	MergedAt    time.Time `json:"merged_at" yaml:"merged_at"`
}

// RecordMerge appends a merge to the history.
func (s *Store) RecordMerge(ctx context.Context, e MergeEntry) error {
	if e.MergedAt.IsZero() {
		e.MergedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO merges (archive, chunk, chunks, identifiers, bytes_before, bytes_after, merged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Archive, e.Chunk, e.Chunks, e.Identifiers, e.BytesBefore, e.BytesAfter,
		e.MergedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording merge: %w", err)
	}
	return nil
}

// Merges returns the merge history, oldest first.
func (s *Store) Merges(ctx context.Context) ([]MergeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT archive, chunk, chunks, identifiers, bytes_before, bytes_after, merged_at
		 FROM merges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying merges: %w", err)
	}
	defer rows.Close()

	var entries []MergeEntry
	for rows.Next() {
		var (
			e        MergeEntry
			mergedAt string
		)
		if err := rows.Scan(&e.Archive, &e.Chunk, &e.Chunks, &e.Identifiers,
			&e.BytesBefore, &e.BytesAfter, &mergedAt); err != nil {
			return nil, fmt.Errorf("scanning merge: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, mergedAt); err == nil {
			e.MergedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(v types.Value) sql.NullString {
	s, ok := v.Get()
	return sql.NullString{String: s, Valid: ok}
}

func fromNullable(ns sql.NullString) types.Value {
	if !ns.Valid {
		return types.Unknown
	}
	return types.Known(ns.String)
}

func encodeExtra(extra map[string]types.Value) (sql.NullString, error) {
	known := make(map[string]types.Value, len(extra))
	for k, v := range extra {
		if v.IsKnown() {
			known[k] = v
		}
	}
	if len(known) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(known)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

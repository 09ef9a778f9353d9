// Package storage persists index entry documents and metadata, and mirrors snapshots to S3.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/passage/internal/models"
)

// EntryRecord is a persisted index entry without its vector.
type EntryRecord struct {
	Slot     int
	Document string
	Metadata models.ChunkMetadata
}

// Manifest identifies the snapshot a sidecar belongs to.
type Manifest struct {
	Generation string
	Count      int
	Dimension  int
	SavedAt    time.Time
}

const (
	manifestGeneration = "generation"
	manifestCount      = "count"
	manifestDimension  = "dimension"
	manifestSavedAt    = "saved_at"
)

// WriteSidecar creates a fresh SQLite database at dbPath holding m and records.
// Any existing file at dbPath is replaced. The database uses a rollback journal so
// the finished file is self-contained and can be renamed into place.
func WriteSidecar(ctx context.Context, dbPath string, m Manifest, records []EntryRecord) error {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create sidecar directory: %w", err)
		}
	}
	for _, p := range []string{dbPath, dbPath + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale sidecar: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return fmt.Errorf("failed to set journal mode: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	manifest := map[string]string{
		manifestGeneration: m.Generation,
		manifestCount:      strconv.Itoa(m.Count),
		manifestDimension:  strconv.Itoa(m.Dimension),
		manifestSavedAt:    m.SavedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range manifest {
		if _, err := tx.ExecContext(ctx, `INSERT INTO manifest (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (slot, chunk_id, source_file, document, metadata) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.Slot, r.Metadata.ChunkID, r.Metadata.SourceFile, r.Document, string(metadataJSON)); err != nil {
			return fmt.Errorf("failed to insert entry %d: %w", r.Slot, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sidecar: %w", err)
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS manifest (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		slot INTEGER PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		source_file TEXT NOT NULL,
		document TEXT NOT NULL,
		metadata TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_source_file ON entries(source_file);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// ReadSidecar loads the manifest and all entries (in slot order) from dbPath.
func ReadSidecar(ctx context.Context, dbPath string) (Manifest, []EntryRecord, error) {
	var m Manifest
	if !fileExists(dbPath) {
		return m, nil, fmt.Errorf("sidecar %s: %w", dbPath, os.ErrNotExist)
	}
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return m, nil, fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM manifest`)
	if err != nil {
		return m, nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return m, nil, fmt.Errorf("failed to scan manifest: %w", err)
		}
		values[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return m, nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if m, err = parseManifest(values); err != nil {
		return m, nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT slot, document, metadata FROM entries ORDER BY slot`)
	if err != nil {
		return m, nil, fmt.Errorf("failed to read entries: %w", err)
	}
	defer rows.Close()
	records := make([]EntryRecord, 0, m.Count)
	for rows.Next() {
		var r EntryRecord
		var metadataJSON string
		if err := rows.Scan(&r.Slot, &r.Document, &metadataJSON); err != nil {
			return m, nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &r.Metadata); err != nil {
			return m, nil, fmt.Errorf("failed to unmarshal metadata for slot %d: %w", r.Slot, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return m, nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return m, records, nil
}

func parseManifest(values map[string]string) (Manifest, error) {
	var m Manifest
	var err error
	m.Generation = values[manifestGeneration]
	if m.Generation == "" {
		return m, fmt.Errorf("manifest has no generation")
	}
	if m.Count, err = strconv.Atoi(values[manifestCount]); err != nil {
		return m, fmt.Errorf("manifest count: %w", err)
	}
	if m.Dimension, err = strconv.Atoi(values[manifestDimension]); err != nil {
		return m, fmt.Errorf("manifest dimension: %w", err)
	}
	if s := values[manifestSavedAt]; s != "" {
		if m.SavedAt, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return m, fmt.Errorf("manifest saved_at: %w", err)
		}
	}
	return m, nil
}

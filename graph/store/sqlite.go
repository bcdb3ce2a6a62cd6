package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file EvidenceStore.
//
// It is designed for development, tests and single-node deployments. WAL
// mode lets concurrent requests read while a seed job writes.
//
// Schema:
//   - incident_evidence: past incidents with resolution and embedding
type SQLiteStore struct {
	sqlStore
	path string
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// a throwaway database.
//
// Example:
//
//	store, err := NewSQLiteStore("./incidents.db", 384)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewSQLiteStore(path string, dims int) (*SQLiteStore, error) {
	if dims < 1 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", dims)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		sqlStore: sqlStore{db: db, dims: dims},
		path:     path,
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS incident_evidence (
			id TEXT PRIMARY KEY,
			issue_text TEXT NOT NULL,
			action_taken TEXT NOT NULL,
			success INTEGER NOT NULL,
			dimensions INTEGER NOT NULL,
			embedding BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incident_evidence_dims ON incident_evidence(dimensions)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert implements EvidenceStore.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) (string, error) {
	return s.insert(ctx, rec)
}

// Query implements EvidenceStore.
func (s *SQLiteStore) Query(ctx context.Context, vector []float64, topK int) ([]Match, error) {
	return s.query(ctx, vector, topK)
}

// Dimensions implements EvidenceStore.
func (s *SQLiteStore) Dimensions() int { return s.dims }

// Close implements EvidenceStore.
func (s *SQLiteStore) Close() error { return s.close() }

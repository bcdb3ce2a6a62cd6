package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is an EvidenceStore backed by MySQL/MariaDB, for deployments
// where several engine processes share one corpus of past incidents.
type MySQLStore struct {
	sqlStore
}

// MySQLOptions tunes the connection pool.
type MySQLOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore connects using dsn, in go-sql-driver format:
//
//	user:password@tcp(localhost:3306)/incidents
//
// parseTime is forced on. Credentials belong in the environment, never in
// source.
func NewMySQLStore(ctx context.Context, dsn string, dims int, opts MySQLOptions) (*MySQLStore, error) {
	if dims < 1 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", dims)
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{sqlStore: sqlStore{db: db, dims: dims}}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS incident_evidence (
		id VARCHAR(36) PRIMARY KEY,
		issue_text TEXT NOT NULL,
		action_taken TEXT NOT NULL,
		success TINYINT(1) NOT NULL,
		dimensions INT NOT NULL,
		embedding LONGBLOB NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_incident_evidence_dims (dimensions)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`)
	return err
}

// Insert implements EvidenceStore.
func (s *MySQLStore) Insert(ctx context.Context, rec Record) (string, error) {
	return s.insert(ctx, rec)
}

// Query implements EvidenceStore.
func (s *MySQLStore) Query(ctx context.Context, vector []float64, topK int) ([]Match, error) {
	return s.query(ctx, vector, topK)
}

// Dimensions implements EvidenceStore.
func (s *MySQLStore) Dimensions() int { return s.dims }

// Close implements EvidenceStore.
func (s *MySQLStore) Close() error { return s.close() }

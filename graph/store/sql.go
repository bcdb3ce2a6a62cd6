package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// sqlStore holds the query logic shared by the SQLite and MySQL stores.
// Similarity is computed in process over all rows of matching dimension.
type sqlStore struct {
	db     *sql.DB
	dims   int
	mu     sync.RWMutex
	closed bool
}

const (
	insertEvidenceSQL = `INSERT INTO incident_evidence
		(id, issue_text, action_taken, success, dimensions, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectEvidenceSQL = `SELECT id, issue_text, action_taken, success, embedding, created_at
		FROM incident_evidence WHERE dimensions = ?`
)

func (s *sqlStore) insert(ctx context.Context, rec Record) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}

	rec, err := prepare(rec, s.dims)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, insertEvidenceSQL,
		rec.ID, rec.IssueText, rec.ActionTaken, rec.Success, s.dims,
		encodeEmbedding(rec.Embedding), rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert evidence: %w", err)
	}
	return rec.ID, nil
}

func (s *sqlStore) query(ctx context.Context, vector []float64, topK int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := checkDimensions(vector, s.dims); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectEvidenceSQL, s.dims)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var (
			rec       Record
			blob      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.IssueText, &rec.ActionTaken, &rec.Success, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		rec.CreatedAt = createdAt
		rec.Embedding, err = decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("evidence %s: %w", rec.ID, err)
		}
		if len(rec.Embedding) != s.dims {
			continue
		}
		matches = append(matches, Match{Record: rec, Similarity: cosineSimilarity(vector, rec.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evidence: %w", err)
	}

	return rank(matches, topK), nil
}

func (s *sqlStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

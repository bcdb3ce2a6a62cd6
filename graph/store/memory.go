package store

import (
	"context"
	"slices"
	"sync"
)

// MemStore is an in-memory EvidenceStore for tests and local runs.
type MemStore struct {
	mu      sync.RWMutex
	dims    int
	records []Record
	closed  bool
}

// NewMemStore creates an empty store accepting vectors of length dims.
func NewMemStore(dims int) *MemStore {
	return &MemStore{dims: dims}
}

// Insert implements EvidenceStore.
func (m *MemStore) Insert(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec, err := prepare(rec, m.dims)
	if err != nil {
		return "", err
	}
	rec.Embedding = slices.Clone(rec.Embedding)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.records = append(m.records, rec)
	return rec.ID, nil
}

// Query implements EvidenceStore.
func (m *MemStore) Query(ctx context.Context, vector []float64, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDimensions(vector, m.dims); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	matches := make([]Match, 0, len(m.records))
	for _, rec := range m.records {
		matches = append(matches, Match{Record: rec, Similarity: cosineSimilarity(vector, rec.Embedding)})
	}
	matches = rank(matches, topK)
	for i := range matches {
		matches[i].Embedding = slices.Clone(matches[i].Embedding)
	}
	return matches, nil
}

// Dimensions implements EvidenceStore.
func (m *MemStore) Dimensions() int { return m.dims }

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements EvidenceStore.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

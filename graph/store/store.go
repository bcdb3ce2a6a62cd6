// Package store provides the evidence datastore: past incidents with their
// resolution and an embedding of the issue text, searchable by similarity.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrClosed is returned by any operation on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Record is one past incident.
type Record struct {
	ID          string
	IssueText   string
	ActionTaken string
	Success     bool
	Embedding   []float64
	CreatedAt   time.Time
}

// Match is a record returned by Query along with its similarity in [0,1].
type Match struct {
	Record
	Similarity float64
}

// EvidenceStore is the evidence datastore used by the retrieval step.
//
// Implementations must be safe for concurrent use; Query may be called by
// many requests at once while Insert seeds data.
type EvidenceStore interface {
	// Query returns up to topK records ordered by descending similarity to
	// vector. Ties are broken by record ID.
	Query(ctx context.Context, vector []float64, topK int) ([]Match, error)

	// Insert stores a record and returns its ID. An empty ID is assigned.
	Insert(ctx context.Context, rec Record) (string, error)

	// Dimensions is the vector length the store accepts.
	Dimensions() int

	// Close releases resources.
	Close() error
}

package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, offline embedder based on feature hashing.
// Each lower-cased token and adjacent token pair is hashed into a signed
// bucket; the result is normalized to unit length. Texts sharing vocabulary
// land close together, which is enough for local runs and tests.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given size.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions < 1 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed implements Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float64, h.dimensions)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return normalize(vec), nil
}

// Dimensions implements Embedder.
func (h *HashEmbedder) Dimensions() int { return h.dimensions }

// Model implements Embedder.
func (h *HashEmbedder) Model() string { return "feature-hash" }

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	sum := sha256.Sum256([]byte(feature))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(vec))
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

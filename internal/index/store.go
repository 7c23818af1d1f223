// Package index owns one similarity-search structure and its sidecar
// metadata per conversation. Conversations are fully isolated: vectors added
// under one conversation id are never visible to another. Within a
// conversation, vector i and metadata i describe the same chunk for the
// lifetime of the index.
package index

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"

	"policyrag/pkg/models"
)

var (
	// ErrDimensionMismatch is returned when a batch or query vector does not
	// match the dimension the conversation's index was built with.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmbedderMismatch is returned when a persisted index was built with a
	// different embedder than the one currently configured. Serving such an
	// index would silently produce meaningless distances.
	ErrEmbedderMismatch = errors.New("index built with a different embedder")
)

// Store is the per-conversation index store.
//
// Add appends the non-duplicate chunks and their vectors, persists, and
// returns the number actually added. Search returns up to topK hits ordered
// by ascending L2 distance; an unknown or empty conversation yields an empty
// slice, not an error. ChunksAt resolves hit positions back to chunk
// metadata. Stats reports zeros for a conversation that was never ingested.
type Store interface {
	Add(ctx context.Context, conversationID string, chunks []models.Chunk, vectors [][]float32) (int, error)
	Search(ctx context.Context, conversationID string, query []float32, topK int) ([]models.Hit, error)
	ChunksAt(ctx context.Context, conversationID string, positions []int) ([]models.Chunk, error)
	Stats(ctx context.Context, conversationID string) (models.IndexStats, error)
}

// Fingerprint hashes normalized chunk text. Two chunks with the same
// fingerprint are considered the same content and the second one is skipped
// on Add, which makes ingestion idempotent under repeated identical uploads.
func Fingerprint(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	h := sha1.Sum([]byte(norm))
	return hex.EncodeToString(h[:])
}

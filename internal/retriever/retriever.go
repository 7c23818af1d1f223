// Package retriever turns a natural-language query into citation-tagged
// context: embed the query, search the conversation's index, map hits back
// to chunks, and score them.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"policyrag/internal/ai"
	"policyrag/internal/index"
	"policyrag/pkg/models"
)

type Service struct {
	Client ai.Client
	Store  index.Store
}

// NewService creates a retriever on top of the given embedder and store.
// The client must be the same embedder configuration used at ingest time;
// the flat store verifies this against its persisted sidecar on load.
func NewService(client ai.Client, store index.Store) *Service {
	return &Service{
		Client: client,
		Store:  store,
	}
}

// Relevance maps an L2 distance onto (0, 1]: identical vectors score 1.0 and
// the score decays monotonically toward 0 as distance grows.
func Relevance(distance float64) float64 {
	return 1 / (1 + distance)
}

// Retrieve embeds the query, searches the conversation's index, and formats
// the top hits into context and citations. A conversation with nothing
// ingested yields empty results, an empty context, and no error; the
// generation layer is expected to turn empty context into an explicit "not
// found" answer.
func (s *Service) Retrieve(ctx context.Context, conversationID, query string, topK int) (models.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	res := models.RetrievalResult{Query: query}

	vecs, err := s.Client.Embed(ctx, []string{query})
	if err != nil {
		return res, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return res, fmt.Errorf("embed query: got %d vectors for one input", len(vecs))
	}

	hits, err := s.Store.Search(ctx, conversationID, vecs[0], topK)
	if err != nil {
		return res, fmt.Errorf("search index: %w", err)
	}
	if len(hits) == 0 {
		res.Results = []models.ScoredChunk{}
		res.Citations = []string{}
		return res, nil
	}

	positions := make([]int, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	chunks, err := s.Store.ChunksAt(ctx, conversationID, positions)
	if err != nil {
		return res, fmt.Errorf("resolve chunks: %w", err)
	}

	var contextParts []string
	for i, h := range hits {
		ch := chunks[i]
		rel := Relevance(h.Distance)
		res.Results = append(res.Results, models.ScoredChunk{
			Chunk:     ch,
			Distance:  h.Distance,
			Relevance: rel,
		})
		contextParts = append(contextParts, fmt.Sprintf("[Source %d: %s]\n%s", i+1, ch.SourceFile, ch.Text))
		res.Citations = append(res.Citations, fmt.Sprintf("%s (Chunk %d, Relevance: %.2f)", ch.SourceFile, ch.ChunkID, rel))
	}
	res.Context = strings.Join(contextParts, "\n")
	return res, nil
}

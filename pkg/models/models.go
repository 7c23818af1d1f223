package models

// Chunk is one bounded window of a source document's text plus its origin
// metadata. Chunks are immutable once created; the index store owns them
// after ingestion. ChunkID is the window's position within its source file,
// not a global identifier.
type Chunk struct {
	Text       string `json:"text"`
	SourceFile string `json:"source_file"`
	ChunkID    int    `json:"chunk_id"`
	SpanStart  int    `json:"span_start"`
	SpanEnd    int    `json:"span_end"`
}

// Hit is a raw similarity-search match: the position of a vector within its
// conversation's index and its L2 distance to the query.
type Hit struct {
	Position int     `json:"position"`
	Distance float64 `json:"distance"`
}

// ScoredChunk pairs a chunk with its distance and the bounded relevance
// score derived from it. Relevance is 1/(1+distance), so it lives in (0, 1].
type ScoredChunk struct {
	Chunk     Chunk   `json:"chunk"`
	Distance  float64 `json:"distance"`
	Relevance float64 `json:"relevance_score"`
}

// RetrievalResult is the transient output of one query: scored chunks in
// rank order, one citation string per chunk, and the concatenated context
// handed to the answer generator. It is built fresh per query and never
// persisted.
type RetrievalResult struct {
	Query     string        `json:"query"`
	Results   []ScoredChunk `json:"results"`
	Citations []string      `json:"citations"`
	Context   string        `json:"context"`
}

// IndexStats describes one conversation's index. A conversation that was
// never ingested reports zeros.
type IndexStats struct {
	TotalChunks    int   `json:"total_chunks"`
	IndexSizeBytes int64 `json:"index_size_bytes"`
}

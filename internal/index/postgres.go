package index

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"policyrag/pkg/models"
)

// Postgres is a pgvector-backed store. Each row is one (conversation,
// position) pair; the unique (conversation_id, fingerprint) index implements
// the duplicate guard, and a per-conversation advisory lock serializes adds
// the same way the flat store's mutex does. Durability comes from the
// database, so there are no file artifacts to manage.
type Postgres struct {
	pool  *pgxpool.Pool
	model string
	dim   int
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the database at url. model and dim identify the
// embedder configuration and size the vector column.
func NewPostgres(ctx context.Context, url, model string, dim int) (*Postgres, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: p, model: model, dim: dim}, nil
}

func (s *Postgres) Close() { s.pool.Close() }

// Migrate applies the schema. The embedding column is sized to the
// configured dimension, so switching embedders requires a fresh database.
func (s *Postgres) Migrate(ctx context.Context) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  conversation_id TEXT NOT NULL,
  position        INT NOT NULL,
  source_file     TEXT NOT NULL,
  chunk_id        INT NOT NULL,
  chunk_text      TEXT NOT NULL,
  span_start      INT NOT NULL,
  span_end        INT NOT NULL,
  fingerprint     TEXT NOT NULL,
  embedding       vector(%d) NOT NULL,
  created_at      TIMESTAMP WITH TIME ZONE DEFAULT now(),
  PRIMARY KEY (conversation_id, position)
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_conversation_fingerprint_uidx
  ON chunks (conversation_id, fingerprint);

CREATE INDEX IF NOT EXISTS chunks_conversation_idx
  ON chunks (conversation_id);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, s.dim))
	if err != nil {
		return fmt.Errorf("index I/O failed: migrate: %w", err)
	}
	return nil
}

// conversationLockKey maps a conversation id onto an advisory-lock key.
func conversationLockKey(conversationID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(conversationID))
	return int64(h.Sum64())
}

// Add inserts the non-duplicate chunks inside one transaction. The advisory
// lock keeps concurrent adds to the same conversation from racing on the
// position counter; ON CONFLICT DO NOTHING drops duplicates silently.
func (s *Postgres) Add(ctx context.Context, conversationID string, chunks []models.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return 0, fmt.Errorf("%w: vector %d has dimension %d, index has %d", ErrDimensionMismatch, i, len(v), s.dim)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("index I/O failed: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", conversationLockKey(conversationID)); err != nil {
		return 0, fmt.Errorf("index I/O failed: lock conversation: %w", err)
	}

	var next int
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(position)+1, 0) FROM chunks WHERE conversation_id = $1",
		conversationID).Scan(&next); err != nil {
		return 0, fmt.Errorf("index I/O failed: next position: %w", err)
	}

	const q = `
		INSERT INTO chunks (
			conversation_id, position, source_file, chunk_id, chunk_text,
			span_start, span_end, fingerprint, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (conversation_id, fingerprint) DO NOTHING`

	added := 0
	for i, ch := range chunks {
		tag, err := tx.Exec(ctx, q,
			conversationID, next+added, ch.SourceFile, ch.ChunkID, ch.Text,
			ch.SpanStart, ch.SpanEnd, Fingerprint(ch.Text), pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return 0, fmt.Errorf("index I/O failed: insert chunk %d: %w", i, err)
		}
		added += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("index I/O failed: commit: %w", err)
	}
	return added, nil
}

// Search runs an exact L2 scan scoped to the conversation. pgvector's <->
// operator returns euclidean distance, matching the flat backend.
func (s *Postgres) Search(ctx context.Context, conversationID string, query []float32, topK int) ([]models.Hit, error) {
	if topK <= 0 {
		return []models.Hit{}, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", ErrDimensionMismatch, len(query), s.dim)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT position, embedding <-> $1
		FROM chunks
		WHERE conversation_id = $2
		ORDER BY embedding <-> $1
		LIMIT $3`,
		pgvector.NewVector(query), conversationID, topK)
	if err != nil {
		return nil, fmt.Errorf("index I/O failed: search: %w", err)
	}
	defer rows.Close()

	hits := []models.Hit{}
	for rows.Next() {
		var h models.Hit
		if err := rows.Scan(&h.Position, &h.Distance); err != nil {
			return nil, fmt.Errorf("index I/O failed: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ChunksAt resolves positions back to chunk metadata, preserving the order
// the positions are given in.
func (s *Postgres) ChunksAt(ctx context.Context, conversationID string, positions []int) ([]models.Chunk, error) {
	if len(positions) == 0 {
		return []models.Chunk{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT position, source_file, chunk_id, chunk_text, span_start, span_end
		FROM chunks
		WHERE conversation_id = $1 AND position = ANY($2)`,
		conversationID, positions)
	if err != nil {
		return nil, fmt.Errorf("index I/O failed: chunks at: %w", err)
	}
	defer rows.Close()

	byPos := make(map[int]models.Chunk, len(positions))
	for rows.Next() {
		var pos int
		var c models.Chunk
		if err := rows.Scan(&pos, &c.SourceFile, &c.ChunkID, &c.Text, &c.SpanStart, &c.SpanEnd); err != nil {
			return nil, fmt.Errorf("index I/O failed: scan chunk: %w", err)
		}
		byPos[pos] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Chunk, 0, len(positions))
	for _, p := range positions {
		c, ok := byPos[p]
		if !ok {
			return nil, fmt.Errorf("position %d not found for conversation %q", p, conversationID)
		}
		out = append(out, c)
	}
	return out, nil
}

// Stats reports the chunk count and an on-disk size estimate for one
// conversation.
func (s *Postgres) Stats(ctx context.Context, conversationID string) (models.IndexStats, error) {
	var st models.IndexStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(pg_column_size(embedding) + pg_column_size(chunk_text)), 0)
		FROM chunks
		WHERE conversation_id = $1`,
		conversationID).Scan(&st.TotalChunks, &st.IndexSizeBytes)
	if err != nil {
		return models.IndexStats{}, fmt.Errorf("index I/O failed: stats: %w", err)
	}
	return st, nil
}

// Ping checks the database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

package index

import (
	"context"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"policyrag/pkg/models"
)

// Flat is a file-backed exact-search store. Each conversation owns a flat
// slice of vectors searched by brute force, a parallel chunk slice, and a
// fingerprint set, persisted as two co-located gob artifacts in the data
// directory: <name>.vec for the vectors and <name>.meta for the sidecar.
// Both are rewritten before Add returns, so a crash leaves the on-disk index
// at most one generation behind, never torn.
//
// Flat is safe for concurrent use. Adds on the same conversation serialize;
// searches on the same conversation proceed in parallel with each other but
// not with an in-flight add. Different conversations share no mutable state
// beyond the registry map.
type Flat struct {
	dir   string
	model string
	dim   int

	mu            sync.Mutex // guards conversations
	conversations map[string]*conversation
}

var _ Store = (*Flat)(nil)

type conversation struct {
	mu           sync.RWMutex
	vectors      [][]float32
	chunks       []models.Chunk
	fingerprints map[string]struct{}
	persisted    bool
}

// metaArtifact is the gob-encoded sidecar. It records the embedder identity
// so a restart with a different embedder configuration fails loudly instead
// of serving garbage distances.
type metaArtifact struct {
	Model        string
	Dim          int
	Chunks       []models.Chunk
	Fingerprints []string
}

type vecArtifact struct {
	Dim     int
	Vectors [][]float32
}

// NewFlat creates a flat store rooted at dir. model and dim identify the
// embedder configuration; they are written into every sidecar and checked
// when an existing index is reloaded.
func NewFlat(dir, model string, dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("index I/O failed: create data dir: %w", err)
	}
	return &Flat{
		dir:           dir,
		model:         model,
		dim:           dim,
		conversations: make(map[string]*conversation),
	}, nil
}

// artifactBase derives a filesystem-safe name deterministically from the
// conversation id.
func (s *Flat) artifactBase(conversationID string) string {
	h := sha1.Sum([]byte(conversationID))
	return filepath.Join(s.dir, hex.EncodeToString(h[:]))
}

// conversation returns the in-memory index for id, loading it from disk on
// first access or creating an empty one if nothing was persisted yet.
func (s *Flat) conversation(conversationID string) (*conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[conversationID]; ok {
		return c, nil
	}

	c, err := s.load(conversationID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &conversation{fingerprints: make(map[string]struct{})}
	}
	s.conversations[conversationID] = c
	return c, nil
}

func (s *Flat) load(conversationID string) (*conversation, error) {
	base := s.artifactBase(conversationID)
	vecPath, metaPath := base+".vec", base+".meta"

	_, vecErr := os.Stat(vecPath)
	_, metaErr := os.Stat(metaPath)
	if os.IsNotExist(vecErr) && os.IsNotExist(metaErr) {
		return nil, nil
	}
	if os.IsNotExist(vecErr) || os.IsNotExist(metaErr) {
		return nil, fmt.Errorf("index I/O failed: artifacts for %q are out of sync", conversationID)
	}

	var vec vecArtifact
	if err := readGob(vecPath, &vec); err != nil {
		return nil, fmt.Errorf("index I/O failed: read vectors: %w", err)
	}
	var meta metaArtifact
	if err := readGob(metaPath, &meta); err != nil {
		return nil, fmt.Errorf("index I/O failed: read metadata: %w", err)
	}

	if meta.Model != s.model || meta.Dim != s.dim || vec.Dim != s.dim {
		return nil, fmt.Errorf("%w: index %q has model=%q dim=%d, configured model=%q dim=%d",
			ErrEmbedderMismatch, conversationID, meta.Model, meta.Dim, s.model, s.dim)
	}
	if len(meta.Chunks) != len(vec.Vectors) {
		return nil, fmt.Errorf("index I/O failed: %q has %d chunks but %d vectors",
			conversationID, len(meta.Chunks), len(vec.Vectors))
	}

	fps := make(map[string]struct{}, len(meta.Fingerprints))
	for _, f := range meta.Fingerprints {
		fps[f] = struct{}{}
	}
	return &conversation{
		vectors:      vec.Vectors,
		chunks:       meta.Chunks,
		fingerprints: fps,
		persisted:    true,
	}, nil
}

// Add appends the non-duplicate chunks and vectors to the conversation's
// index and persists both artifacts before returning. Chunks whose
// fingerprint is already present are silently skipped. On a persistence
// failure the in-memory state is rolled back so memory never runs ahead of
// disk.
func (s *Flat) Add(ctx context.Context, conversationID string, chunks []models.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return 0, fmt.Errorf("%w: vector %d has dimension %d, index has %d", ErrDimensionMismatch, i, len(v), s.dim)
		}
	}

	c, err := s.conversation(conversationID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prevLen := len(c.chunks)
	var addedFps []string
	for i, ch := range chunks {
		fp := Fingerprint(ch.Text)
		if _, dup := c.fingerprints[fp]; dup {
			continue
		}
		c.fingerprints[fp] = struct{}{}
		addedFps = append(addedFps, fp)
		c.chunks = append(c.chunks, ch)
		c.vectors = append(c.vectors, vectors[i])
	}

	added := len(c.chunks) - prevLen
	if added == 0 && c.persisted {
		return 0, nil
	}

	if err := s.persist(conversationID, c); err != nil {
		c.chunks = c.chunks[:prevLen]
		c.vectors = c.vectors[:prevLen]
		for _, fp := range addedFps {
			delete(c.fingerprints, fp)
		}
		return 0, err
	}
	c.persisted = true
	return added, nil
}

// persist rewrites both artifacts atomically (temp file then rename), vector
// structure first, sidecar second. Caller holds the conversation lock.
func (s *Flat) persist(conversationID string, c *conversation) error {
	base := s.artifactBase(conversationID)

	fps := make([]string, 0, len(c.fingerprints))
	for f := range c.fingerprints {
		fps = append(fps, f)
	}
	sort.Strings(fps)

	if err := writeGob(base+".vec", vecArtifact{Dim: s.dim, Vectors: c.vectors}); err != nil {
		return fmt.Errorf("index I/O failed: write vectors: %w", err)
	}
	meta := metaArtifact{Model: s.model, Dim: s.dim, Chunks: c.chunks, Fingerprints: fps}
	if err := writeGob(base+".meta", meta); err != nil {
		return fmt.Errorf("index I/O failed: write metadata: %w", err)
	}
	return nil
}

// Search returns up to topK positions ordered by ascending L2 distance to
// query. A conversation with no index, or an empty one, yields an empty
// result: that is the documented "no documents uploaded yet" case.
func (s *Flat) Search(ctx context.Context, conversationID string, query []float32, topK int) ([]models.Hit, error) {
	c, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.vectors) == 0 || topK <= 0 {
		return []models.Hit{}, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", ErrDimensionMismatch, len(query), s.dim)
	}

	hits := make([]models.Hit, len(c.vectors))
	for i, v := range c.vectors {
		hits[i] = models.Hit{Position: i, Distance: l2Distance(query, v)}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })

	if topK > len(hits) {
		topK = len(hits)
	}
	return hits[:topK], nil
}

// ChunksAt resolves hit positions back to chunk metadata, in the order the
// positions are given.
func (s *Flat) ChunksAt(ctx context.Context, conversationID string, positions []int) ([]models.Chunk, error) {
	c, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Chunk, 0, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(c.chunks) {
			return nil, fmt.Errorf("position %d out of range for conversation %q (%d chunks)", p, conversationID, len(c.chunks))
		}
		out = append(out, c.chunks[p])
	}
	return out, nil
}

// Stats reports the chunk count and on-disk artifact size for a
// conversation. A conversation that was never ingested reports zeros.
func (s *Flat) Stats(ctx context.Context, conversationID string) (models.IndexStats, error) {
	c, err := s.conversation(conversationID)
	if err != nil {
		return models.IndexStats{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	st := models.IndexStats{TotalChunks: len(c.chunks)}
	base := s.artifactBase(conversationID)
	for _, p := range []string{base + ".vec", base + ".meta"} {
		if fi, err := os.Stat(p); err == nil {
			st.IndexSizeBytes += fi.Size()
		}
	}
	return st, nil
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func readGob(path string, into any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(into)
}

func writeGob(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

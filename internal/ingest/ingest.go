// Package ingest drives the chunk → embed → index pipeline for uploaded
// documents.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"policyrag/internal/ai"
	"policyrag/internal/chunker"
	"policyrag/internal/index"
)

// Service ingests raw document text into a conversation's index.
type Service struct {
	Client    ai.Client
	Store     index.Store
	ChunkSize int
	Overlap   int
}

// Result reports one document's ingestion: how many chunks were produced
// and how many survived the duplicate guard.
type Result struct {
	SourceFile    string `json:"source_file"`
	ChunksCreated int    `json:"chunks_created"`
	ChunksAdded   int    `json:"chunks_added"`
}

func NewService(client ai.Client, store index.Store, chunkSize, overlap int) *Service {
	return &Service{
		Client:    client,
		Store:     store,
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// IngestText chunks the text, embeds every chunk in one batch, and appends
// the batch to the conversation's index. Re-ingesting identical content is a
// no-op reported through ChunksAdded.
func (s *Service) IngestText(ctx context.Context, conversationID, sourceFile, text string) (Result, error) {
	res := Result{SourceFile: sourceFile}

	chunks, err := chunker.Chunk(text, sourceFile, s.ChunkSize, s.Overlap)
	if err != nil {
		return res, err
	}
	res.ChunksCreated = len(chunks)
	if len(chunks) == 0 {
		return res, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.Client.Embed(ctx, texts)
	if err != nil {
		return res, fmt.Errorf("embed chunks: %w", err)
	}

	added, err := s.Store.Add(ctx, conversationID, chunks, vectors)
	if err != nil {
		return res, err
	}
	res.ChunksAdded = added
	return res, nil
}

// IngestDir walks root and ingests every plain-text document into the
// conversation. Files are embedded concurrently; the store serializes the
// adds per conversation.
func (s *Service) IngestDir(ctx context.Context, conversationID, root string) ([]Result, error) {
	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8 // keep the embedding API load reasonable
	}

	type workItem struct {
		path string
		text string
	}
	workChan := make(chan workItem, numWorkers*2)

	var mu sync.Mutex
	var results []Result
	var firstErr error

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				r, err := s.IngestText(ctx, conversationID, filepath.Base(item.path), item.text)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("ingest %s: %w", item.path, err)
					}
					log.Error().Err(err).Str("path", item.path).Msg("ingest failed")
				} else {
					results = append(results, r)
				}
				mu.Unlock()
			}
		}()
	}

	walkErr := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if !TextDocument(path) {
				return nil
			}
			b, err := os.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}
			select {
			case workChan <- workItem{path: path, text: string(b)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	if walkErr != nil {
		return results, walkErr
	}
	return results, firstErr
}

// TextDocument reports whether the file is one of the supported plain-text
// formats. Richer formats would need their own text extraction, which is a
// front-end concern.
func TextDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// Package chunker splits raw document text into overlapping fixed-size
// windows suitable for embedding and retrieval. Overlap keeps a clause that
// straddles a window boundary retrievable from at least one side.
package chunker

import (
	"fmt"
	"strings"

	"policyrag/pkg/models"
)

// Chunk slides a window of chunkSize runes across text, advancing by
// chunkSize-overlap runes per step, and emits one Chunk per window with its
// rune span recorded. The final window may be shorter than chunkSize.
//
// Empty or whitespace-only input yields zero chunks and no error. Input
// shorter than chunkSize yields exactly one chunk.
func Chunk(text, sourceFile string, chunkSize, overlap int) ([]models.Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunking config: chunk_size %d must be positive", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("invalid chunking config: overlap %d must be in [0, %d)", overlap, chunkSize)
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := chunkSize - overlap

	var chunks []models.Chunk
	for start, id := 0, 0; start < len(runes); start, id = start+step, id+1 {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, models.Chunk{
			Text:       string(runes[start:end]),
			SourceFile: sourceFile,
			ChunkID:    id,
			SpanStart:  start,
			SpanEnd:    end,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

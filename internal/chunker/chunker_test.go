package chunker

import (
	"strings"
	"testing"
)

func TestChunkWindows(t *testing.T) {
	// 1200 characters with chunk_size=500, overlap=100 must produce exactly
	// three windows stepping by 400.
	text := strings.Repeat("a", 1200)

	chunks, err := Chunk(text, "policy.txt", 500, 100)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	wantSpans := [][2]int{{0, 500}, {400, 900}, {800, 1200}}
	for i, c := range chunks {
		if c.ChunkID != i {
			t.Errorf("Chunk %d: expected ChunkID %d, got %d", i, i, c.ChunkID)
		}
		if c.SpanStart != wantSpans[i][0] || c.SpanEnd != wantSpans[i][1] {
			t.Errorf("Chunk %d: expected span [%d,%d), got [%d,%d)",
				i, wantSpans[i][0], wantSpans[i][1], c.SpanStart, c.SpanEnd)
		}
		if c.SourceFile != "policy.txt" {
			t.Errorf("Chunk %d: expected source policy.txt, got %q", i, c.SourceFile)
		}
		if len([]rune(c.Text)) != c.SpanEnd-c.SpanStart {
			t.Errorf("Chunk %d: text length %d does not match span width %d",
				i, len([]rune(c.Text)), c.SpanEnd-c.SpanStart)
		}
	}
}

func TestChunkCoverageAndOverlap(t *testing.T) {
	tests := []struct {
		name      string
		textLen   int
		chunkSize int
		overlap   int
	}{
		{"exact multiple", 1000, 100, 0},
		{"with overlap", 1234, 300, 50},
		{"large overlap", 777, 100, 99},
		{"single window", 50, 500, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("x", tt.textLen)
			chunks, err := Chunk(text, "a.txt", tt.chunkSize, tt.overlap)
			if err != nil {
				t.Fatalf("Chunk failed: %v", err)
			}
			if len(chunks) == 0 {
				t.Fatal("Expected at least one chunk")
			}

			if chunks[0].SpanStart != 0 {
				t.Errorf("First chunk starts at %d, expected 0", chunks[0].SpanStart)
			}
			last := chunks[len(chunks)-1]
			if last.SpanEnd != tt.textLen {
				t.Errorf("Last chunk ends at %d, expected %d", last.SpanEnd, tt.textLen)
			}
			for i := 1; i < len(chunks); i++ {
				gotOverlap := chunks[i-1].SpanEnd - chunks[i].SpanStart
				if chunks[i-1].SpanEnd-chunks[i-1].SpanStart == tt.chunkSize && gotOverlap != tt.overlap {
					t.Errorf("Chunks %d/%d overlap by %d, expected %d", i-1, i, gotOverlap, tt.overlap)
				}
				if chunks[i].SpanStart > chunks[i-1].SpanEnd {
					t.Errorf("Gap between chunks %d and %d", i-1, i)
				}
			}
		})
	}
}

func TestChunkEmptyInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Chunk(tt.text, "a.txt", 500, 100)
			if err != nil {
				t.Fatalf("Expected no error for %s input, got %v", tt.name, err)
			}
			if len(chunks) != 0 {
				t.Errorf("Expected 0 chunks, got %d", len(chunks))
			}
		})
	}
}

func TestChunkShortInput(t *testing.T) {
	chunks, err := Chunk("short text", "a.txt", 500, 100)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected exactly 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "short text" {
		t.Errorf("Expected full text in single chunk, got %q", chunks[0].Text)
	}
}

func TestChunkInvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"negative overlap", 100, -1},
		{"zero size", 0, 0},
		{"negative size", -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Chunk("some text", "a.txt", tt.chunkSize, tt.overlap); err == nil {
				t.Errorf("Expected error for chunk_size=%d overlap=%d", tt.chunkSize, tt.overlap)
			}
		})
	}
}

func TestChunkMultibyteText(t *testing.T) {
	// Spans are rune offsets, so multibyte text must not split mid-character.
	text := strings.Repeat("ü", 30)
	chunks, err := Chunk(text, "a.txt", 10, 2)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	for i, c := range chunks {
		if strings.Count(c.Text, "ü") != len([]rune(c.Text)) {
			t.Errorf("Chunk %d contains a broken rune: %q", i, c.Text)
		}
	}
	if last := chunks[len(chunks)-1]; last.SpanEnd != 30 {
		t.Errorf("Last span ends at %d, expected 30", last.SpanEnd)
	}
}

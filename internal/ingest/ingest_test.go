package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"policyrag/internal/ai"
	"policyrag/internal/index"
)

func newTestService(t *testing.T) (*Service, *index.Flat) {
	t.Helper()
	client := ai.NewStubClient(16)
	store, err := index.NewFlat(t.TempDir(), client.Model(), client.Dim())
	if err != nil {
		t.Fatalf("NewFlat failed: %v", err)
	}
	return NewService(client, store, 500, 100), store
}

func TestIngestText(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	text := strings.Repeat("every employee is entitled to paid leave. ", 40)
	res, err := svc.IngestText(ctx, "c1", "leave.txt", text)
	if err != nil {
		t.Fatalf("IngestText failed: %v", err)
	}
	if res.ChunksCreated == 0 {
		t.Fatal("Expected chunks to be created")
	}
	if res.ChunksAdded != res.ChunksCreated {
		t.Errorf("First ingest: expected all %d chunks added, got %d", res.ChunksCreated, res.ChunksAdded)
	}

	stats, err := store.Stats(ctx, "c1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalChunks != res.ChunksAdded {
		t.Errorf("Store reports %d chunks, ingest reported %d", stats.TotalChunks, res.ChunksAdded)
	}
}

func TestIngestTextIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	text := strings.Repeat("expenses over 50 euro need a receipt. ", 40)
	first, err := svc.IngestText(ctx, "c1", "expenses.txt", text)
	if err != nil {
		t.Fatalf("First IngestText failed: %v", err)
	}

	second, err := svc.IngestText(ctx, "c1", "expenses.txt", text)
	if err != nil {
		t.Fatalf("Second IngestText failed: %v", err)
	}
	if second.ChunksAdded != 0 {
		t.Errorf("Expected repeated upload to add 0 chunks, got %d", second.ChunksAdded)
	}
	if second.ChunksCreated != first.ChunksCreated {
		t.Errorf("Chunking changed between identical uploads: %d vs %d", first.ChunksCreated, second.ChunksCreated)
	}

	stats, err := store.Stats(ctx, "c1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalChunks != first.ChunksAdded {
		t.Errorf("Expected %d chunks after duplicate upload, got %d", first.ChunksAdded, stats.TotalChunks)
	}
}

func TestIngestTextEmpty(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	res, err := svc.IngestText(ctx, "c1", "empty.txt", "   \n ")
	if err != nil {
		t.Fatalf("IngestText on empty text must not error, got %v", err)
	}
	if res.ChunksCreated != 0 || res.ChunksAdded != 0 {
		t.Errorf("Expected zero chunks for empty text, got %+v", res)
	}
}

func TestIngestDir(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	docs := t.TempDir()
	files := map[string]string{
		"vacation.txt": "employees receive 25 days of paid vacation per year.",
		"remote.md":    "remote work is allowed up to three days per week.",
		"logo.png":     "binary junk that must be skipped",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write fixture: %v", err)
		}
	}

	results, err := svc.IngestDir(ctx, "c1", docs)
	if err != nil {
		t.Fatalf("IngestDir failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 ingested documents, got %d", len(results))
	}

	stats, err := store.Stats(ctx, "c1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalChunks != 2 {
		t.Errorf("Expected 2 chunks in index, got %d", stats.TotalChunks)
	}
}

func TestTextDocument(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"policy.txt", true},
		{"notes.MD", true},
		{"dir/readme.md", true},
		{"report.pdf", false},
		{"archive.tar.gz", false},
		{"noext", false},
	}

	for _, tt := range tests {
		if got := TextDocument(tt.path); got != tt.want {
			t.Errorf("TextDocument(%q) = %v, expected %v", tt.path, got, tt.want)
		}
	}
}

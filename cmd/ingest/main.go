package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"policyrag/internal/ai"
	"policyrag/internal/config"
	"policyrag/internal/index"
	"policyrag/internal/ingest"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("policyrag-ingest", pflag.ExitOnError)
	conversationID := fs.String("conversation-id", "", "Conversation to ingest into (required)")
	docsDir := fs.String("docs-dir", "", "Directory of .txt/.md documents to ingest (required)")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if *conversationID == "" || *docsDir == "" {
		fs.Usage()
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatal(err)
	}
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	ctx := context.Background()

	var st index.Store
	switch cfg.Store {
	case "postgres":
		pg, err := index.NewPostgres(ctx, cfg.Database, client.Model(), client.Dim())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		st = pg
	default:
		flat, err := index.NewFlat(cfg.DataDir, client.Model(), client.Dim())
		if err != nil {
			log.Fatalf("Failed to open index store: %v", err)
		}
		st = flat
	}

	svc := ingest.NewService(client, st, cfg.ChunkSize, cfg.Overlap)

	zlog.Info().Str("conversation_id", *conversationID).Str("docs_dir", *docsDir).Msg("starting ingestion")
	results, err := svc.IngestDir(ctx, *conversationID, *docsDir)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	var created, added int
	for _, r := range results {
		created += r.ChunksCreated
		added += r.ChunksAdded
		zlog.Info().Str("file", r.SourceFile).Int("created", r.ChunksCreated).Int("added", r.ChunksAdded).Msg("ingested")
	}
	zlog.Info().Int("files", len(results)).Int("chunks_created", created).Int("chunks_added", added).Msg("done")
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch cfg.Provider {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			BaseURL:    cfg.BaseURL,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	}
	return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
}

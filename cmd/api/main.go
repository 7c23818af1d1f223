package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"policyrag/internal/ai"
	"policyrag/internal/config"
	"policyrag/internal/index"
	"policyrag/internal/ingest"
	"policyrag/internal/retriever"
	"policyrag/pkg/models"
)

type queryRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	TopK           int    `json:"top_k"`
}

type ingestResponse struct {
	Status        string `json:"status"`
	Filename      string `json:"filename"`
	ChunksCreated int    `json:"chunks_created"`
	ChunksAdded   int    `json:"chunks_added"`
}

type retrieveResponse struct {
	Query            string               `json:"query"`
	TopChunks        []models.ScoredChunk `json:"top_chunks"`
	Citations        []string             `json:"citations"`
	FormattedContext string               `json:"formatted_context"`
}

type generateResponse struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
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
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func newStore(ctx context.Context, cfg config.Specification, client ai.Client) (index.Store, func(), error) {
	switch cfg.Store {
	case "postgres":
		st, err := index.NewPostgres(ctx, cfg.Database, client.Model(), client.Dim())
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		st, err := index.NewFlat(cfg.DataDir, client.Model(), client.Dim())
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}

func main() {
	_ = godotenv.Load()

	// Create flagset for configuration
	fs := pflag.NewFlagSet("policyrag-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("store", cfg.Store).Str("log_level", cfg.LogLevel).Msg("starting policyrag api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatal(err)
	}
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	logger.Info().Int("embedding_dim", client.Dim()).Str("embed_model", client.Model()).Msg("AI client initialized")

	ctx := context.Background()
	st, closeStore, err := newStore(ctx, cfg, client)
	if err != nil {
		log.Fatalf("Failed to initialize index store: %v", err)
	}
	defer closeStore()

	ing := ingest.NewService(client, st, cfg.ChunkSize, cfg.Overlap)
	retr := retriever.NewService(client, st)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		conversationID := r.URL.Query().Get("conversation_id")
		if conversationID == "" {
			http.Error(w, "missing query parameter conversation_id", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		stats, err := st.Stats(ctx, conversationID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("/ingest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}
		conversationID := r.FormValue("conversation_id")
		if conversationID == "" {
			http.Error(w, "missing form value conversation_id", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		if !ingest.TextDocument(header.Filename) {
			http.Error(w, "only .txt and .md files are supported", http.StatusBadRequest)
			return
		}
		b, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		res, err := ing.IngestText(ctx, conversationID, header.Filename, string(b))
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if res.ChunksCreated == 0 {
			http.Error(w, "no extractable text", http.StatusBadRequest)
			return
		}

		hlog.FromRequest(r).Info().Str("conversation_id", conversationID).Str("file", header.Filename).
			Int("created", res.ChunksCreated).Int("added", res.ChunksAdded).Msg("ingested")
		writeJSON(w, ingestResponse{
			Status:        "success",
			Filename:      header.Filename,
			ChunksCreated: res.ChunksCreated,
			ChunksAdded:   res.ChunksAdded,
		})
	})

	mux.HandleFunc("/retrieve", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQuery(w, r, cfg.TopK)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		res, err := retr.Retrieve(ctx, req.ConversationID, req.Query, req.TopK)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		writeJSON(w, retrieveResponse{
			Query:            res.Query,
			TopChunks:        res.Results,
			Citations:        res.Citations,
			FormattedContext: res.Context,
		})
	})

	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		req, ok := decodeQuery(w, r, cfg.TopK)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		res, err := retr.Retrieve(ctx, req.ConversationID, req.Query, req.TopK)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		answer, err := client.Generate(ctx, req.Query, res.Context)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		hlog.FromRequest(r).Info().Str("conversation_id", req.ConversationID).Str("q", req.Query).
			Int("k", req.TopK).Dur("dur", time.Since(start)).Msg("served")
		writeJSON(w, generateResponse{Query: req.Query, Answer: answer, Sources: res.Citations})
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func decodeQuery(w http.ResponseWriter, r *http.Request, defaultTopK int) (queryRequest, bool) {
	var req queryRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if req.ConversationID == "" {
		http.Error(w, "missing conversation_id", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "missing query", http.StatusBadRequest)
		return req, false
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", 500)
	}
}

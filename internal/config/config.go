package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel string `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	GenModel   string `yaml:"providerGenModel" envconfig:"PROVIDER_GENERATION_MODEL"`
	BaseURL    string `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	ProjectID  string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location   string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim        int    `yaml:"providerDim" envconfig:"EMBED_DIM"`

	Store    string `yaml:"store"`
	DataDir  string `yaml:"dataDir" split_words:"true"`
	Database string `yaml:"database" envconfig:"DB_URL"`

	ChunkSize int `yaml:"chunkSize" split_words:"true"`
	Overlap   int `yaml:"overlap"`
	TopK      int `yaml:"topK" split_words:"true"`

	LogLevel string `yaml:"logLevel" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "POLICYRAG"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/policyrag.yaml",
				"config/config.yaml",
				"./policyrag.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	// Minimal sanity
	if cfg.ChunkSize <= 0 {
		return Specification{}, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return Specification{}, fmt.Errorf("overlap %d must be in [0, %d)", cfg.Overlap, cfg.ChunkSize)
	}
	switch cfg.Store {
	case "flat":
	case "postgres":
		if strings.TrimSpace(cfg.Database) == "" {
			return Specification{}, fmt.Errorf("%s_DB_URL is required for the postgres store (env/file/flag)", envPrefix)
		}
	default:
		return Specification{}, fmt.Errorf("unsupported store %q (flat|postgres)", cfg.Store)
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (stub, openai, vertexai)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-generation-model", c.GenModel, "Provider answer-generation model")
	fs.String("provider-base-url", c.BaseURL, "OpenAI-compatible base URL (e.g. Groq)")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")

	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("store", c.Store, "Index store backend (flat|postgres)")
	fs.String("data-dir", c.DataDir, "Directory for flat index artifacts")
	fs.String("db-url", c.Database, "Database URL (DSN) for the postgres store")

	fs.Int("chunk-size", c.ChunkSize, "Chunk window size in characters")
	fs.Int("overlap", c.Overlap, "Chunk overlap in characters")
	fs.Int("top-k", c.TopK, "Default number of results per query")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-generation-model", &c.GenModel)
	setStr("provider-base-url", &c.BaseURL)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)

	setInt("embed-dim", &c.Dim)

	setStr("store", &c.Store)
	setStr("data-dir", &c.DataDir)
	setStr("db-url", &c.Database)

	setInt("chunk-size", &c.ChunkSize)
	setInt("overlap", &c.Overlap)
	setInt("top-k", &c.TopK)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
}

func setDefaults(c *Specification) {
	c.Provider = "stub"
	c.Location = "us-central1"
	c.Dim = 0
	c.Store = "flat"
	c.DataDir = "data/index"
	c.ChunkSize = 500
	c.Overlap = 100
	c.TopK = 3
	c.LogLevel = "info"
	c.Port = 8080
}

// Package config loads the retrieval core configuration: a YAML file per
// environment with ${VAR:-default} expansion, overlaid by the well-known
// environment keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexban14/ai.dok/internal/domain"
)

// Config holds the ai.dok retrieval core configuration.
type Config struct {
	DataDir     string             `yaml:"data_dir"` // BM25 files and the jobs log
	Corpus      CorpusConfig       `yaml:"corpus"`
	VectorStore VectorStoreConfig  `yaml:"vector_store"`
	Embedding   EmbeddingConfig    `yaml:"embedding"`
	Reranker    RerankerConfig     `yaml:"reranker"`
	Retrieval   RetrievalConfig    `yaml:"retrieval"`
	BM25        BM25Config         `yaml:"bm25"`
	Chunking    ChunkingConfig     `yaml:"chunking"`
	Indexing    IndexingConfig     `yaml:"indexing"`
	Collections []CollectionConfig `yaml:"collections"`
	Ops         OpsConfig          `yaml:"ops"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// CorpusConfig locates the source documents and their extractor.
type CorpusConfig struct {
	Root         string   `yaml:"root"`          // directory of source documents
	Extensions   []string `yaml:"extensions"`    // e.g. [".pdf", ".txt"]
	ExtractorURL string   `yaml:"extractor_url"` // remote PDF/OCR service; empty = plaintext passthrough
}

// VectorStoreConfig holds the external ANN store connection.
type VectorStoreConfig struct {
	Addrs           []string `yaml:"addrs"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DB              int      `yaml:"db"`
	BatchSize       int      `yaml:"batch_size"` // upsert batch, default 500
	HNSWM           int      `yaml:"hnsw_m"`
	HNSWEFConstruct int      `yaml:"hnsw_ef_construction"`
	ReadinessSec    int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds the bi-encoder provider settings.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheVec   bool   `yaml:"cache_vectors"` // cache query vectors in the store
}

// RerankerConfig holds the cross-encoder provider settings.
type RerankerConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

// RetrievalConfig holds the query-path defaults.
type RetrievalConfig struct {
	Strategy               string  `yaml:"strategy"`        // dense, sparse, hybrid
	RetrievalTopK          int     `yaml:"retrieval_top_k"` // pre-rerank pool
	RerankerTopK           int     `yaml:"reranker_top_k"`  // final results
	HybridAlpha            float64 `yaml:"hybrid_alpha"`    // reserved; inactive under RRF
	QueryTimeoutSec        int     `yaml:"query_timeout_sec"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

// BM25Config holds the Okapi parameters.
type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// ChunkingConfig holds the chunker parameters in characters.
type ChunkingConfig struct {
	Size      int   `yaml:"size"`
	Overlap   int   `yaml:"overlap"`
	BySection *bool `yaml:"by_section"`
}

// IndexingConfig holds the bulk pipeline parameters.
type IndexingConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	BatchSize      int `yaml:"batch_size"`
	FileTimeoutSec int `yaml:"file_timeout_sec"`
}

// CollectionConfig binds a named collection to its models. Empty model
// ids inherit the global embedding/reranker settings.
type CollectionConfig struct {
	Name                   string  `yaml:"name"`
	EmbeddingModel         string  `yaml:"embedding_model"`
	RerankerModel          string  `yaml:"reranker_model"`
	Dimensions             int     `yaml:"dimensions"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

// OpsConfig holds the observability listener settings.
type OpsConfig struct {
	Port int `yaml:"port"` // 0 disables the listener
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file by environment name
// (local, dev, prod) and applies the environment-key overrides.
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	var cfg Config
	data, err := os.ReadFile(filepath.Clean(configPath))
	switch {
	case err == nil:
		data = expandEnvVars(data)
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse config %s: %v", domain.ErrConfig, configPath, err)
		}
	case os.IsNotExist(err):
		// env keys alone can carry a full configuration
	default:
		return Config{}, fmt.Errorf("%w: read config %s: %v", domain.ErrConfig, configPath, err)
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GetEnv returns the current environment from ENV, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// applyEnvOverrides overlays the well-known environment keys.
func (c *Config) applyEnvOverrides() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setStr("EMBEDDING_MODEL", &c.Embedding.Model)
	setStr("RERANKER_MODEL", &c.Reranker.Model)
	setStr("RETRIEVAL_STRATEGY", &c.Retrieval.Strategy)
	setFloat("BM25_K1", &c.BM25.K1)
	setFloat("BM25_B", &c.BM25.B)
	setFloat("HYBRID_ALPHA", &c.Retrieval.HybridAlpha)
	setInt("RETRIEVAL_TOP_K", &c.Retrieval.RetrievalTopK)
	setInt("RERANKER_TOP_K", &c.Retrieval.RerankerTopK)
	setInt("CHUNK_SIZE", &c.Chunking.Size)
	setInt("CHUNK_OVERLAP", &c.Chunking.Overlap)
	if v := os.Getenv("CHUNK_BY_SECTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Chunking.BySection = &b
		}
	}
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.VectorStore.BatchSize <= 0 {
		c.VectorStore.BatchSize = 500
	}
	if c.VectorStore.ReadinessSec <= 0 {
		c.VectorStore.ReadinessSec = 10
	}
	if c.Retrieval.Strategy == "" {
		c.Retrieval.Strategy = string(domain.StrategyHybrid)
	}
	if c.Retrieval.RetrievalTopK <= 0 {
		c.Retrieval.RetrievalTopK = 20
	}
	if c.Retrieval.RerankerTopK <= 0 {
		c.Retrieval.RerankerTopK = 5
	}
	if c.Retrieval.QueryTimeoutSec <= 0 {
		c.Retrieval.QueryTimeoutSec = 30
	}
	if c.Retrieval.LowConfidenceThreshold <= 0 {
		c.Retrieval.LowConfidenceThreshold = 0.25
	}
	if c.BM25.K1 <= 0 {
		c.BM25.K1 = 1.5
	}
	if c.BM25.B <= 0 {
		c.BM25.B = 0.75
	}
	if c.Chunking.Size <= 0 {
		c.Chunking.Size = 512
	}
	if c.Chunking.Overlap <= 0 {
		c.Chunking.Overlap = 100
	}
	if c.Chunking.BySection == nil {
		t := true
		c.Chunking.BySection = &t
	}
	if c.Indexing.MaxConcurrent <= 0 {
		c.Indexing.MaxConcurrent = 20
	}
	if c.Indexing.BatchSize <= 0 {
		c.Indexing.BatchSize = 500
	}
	if c.Indexing.FileTimeoutSec <= 0 {
		c.Indexing.FileTimeoutSec = 300
	}
	if len(c.Corpus.Extensions) == 0 {
		c.Corpus.Extensions = []string{".pdf", ".txt"}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if _, err := domain.ParseStrategy(c.Retrieval.Strategy); err != nil {
		return err
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			domain.ErrConfig, c.Chunking.Overlap, c.Chunking.Size)
	}
	seen := map[string]bool{}
	for _, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("%w: collection without a name", domain.ErrConfig)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: duplicate collection %s", domain.ErrConfig, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// DomainCollections resolves the configured collections into their
// domain bindings, inheriting the global model settings.
func (c *Config) DomainCollections() []domain.Collection {
	cols := c.Collections
	if len(cols) == 0 {
		cols = []CollectionConfig{{Name: "rcp_docs"}}
	}

	out := make([]domain.Collection, 0, len(cols))
	for _, cc := range cols {
		col := domain.Collection{
			Name:                   cc.Name,
			EmbeddingModelID:       cc.EmbeddingModel,
			RerankerModelID:        cc.RerankerModel,
			VectorDim:              cc.Dimensions,
			LowConfidenceThreshold: cc.LowConfidenceThreshold,
		}
		if col.EmbeddingModelID == "" {
			col.EmbeddingModelID = c.Embedding.Model
		}
		if col.RerankerModelID == "" {
			col.RerankerModelID = c.Reranker.Model
		}
		if col.VectorDim == 0 {
			col.VectorDim = c.Embedding.Dimensions
		}
		if col.LowConfidenceThreshold == 0 {
			col.LowConfidenceThreshold = c.Retrieval.LowConfidenceThreshold
		}
		out = append(out, col)
	}
	return out
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

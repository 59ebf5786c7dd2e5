package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CorpusConfig points at the directory of case JSON files.
type CorpusConfig struct {
	Dir string `yaml:"dir"`
}

// ChunkerConfig configures the character window used to split sections.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// BedrockConfig is shared by the Titan embedder and the Claude generator.
type BedrockConfig struct {
	RegionEnv string `yaml:"region_env"`
	Region    string `yaml:"region"`
	ModelID   string `yaml:"model_id"`
}

// LangchainConfig selects a langchaingo backend.
type LangchainConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Bedrock   *BedrockConfig        `yaml:"bedrock,omitempty"`
	Langchain *LangchainConfig      `yaml:"langchain,omitempty"`
}

// VectorStoreConfig selects the index behind the in-memory store.
type VectorStoreConfig struct {
	Index      string        `yaml:"index"`
	Collection string        `yaml:"collection"`
	Qdrant     *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GeneratorConfig selects the answer generator.
type GeneratorConfig struct {
	Type        string           `yaml:"type"`
	MaxTokens   int              `yaml:"max_tokens"`
	Temperature float64          `yaml:"temperature"`
	Bedrock     *BedrockConfig   `yaml:"bedrock,omitempty"`
	Langchain   *LangchainConfig `yaml:"langchain,omitempty"`
}

type RetrievalConfig struct {
	TopK            int  `yaml:"top_k"`
	MetadataTopK    int  `yaml:"metadata_top_k"`
	LexicalFallback bool `yaml:"lexical_fallback"`
}

// SummarizerConfig configures the frequency summarizer.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

type CacheConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	TTLSecs     int    `yaml:"ttl_secs"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Pretty bool   `yaml:"pretty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus      CorpusConfig      `yaml:"corpus"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Cache       CacheConfig       `yaml:"cache"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/arbitration-rag/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings the components cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize))
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		errs = append(errs, fmt.Errorf("chunker.overlap must be in [0, chunk_size), got %d", c.Chunker.Overlap))
	}
	if c.Embedder.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedder.dimension must not be negative"))
	}
	if !oneOf(c.Embedder.Type, "hash", "tfidf", "openai", "bedrock", "langchain") {
		errs = append(errs, fmt.Errorf("unknown embedder type %q", c.Embedder.Type))
	}
	if !oneOf(c.VectorStore.Index, "scan", "chromem", "qdrant") {
		errs = append(errs, fmt.Errorf("unknown vector_store index %q", c.VectorStore.Index))
	}
	if !oneOf(c.Generator.Type, "extractive", "bedrock", "langchain") {
		errs = append(errs, fmt.Errorf("unknown generator type %q", c.Generator.Type))
	}
	if c.Retrieval.TopK < 0 || c.Retrieval.MetadataTopK < 0 {
		errs = append(errs, fmt.Errorf("retrieval top_k values must not be negative"))
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, fmt.Errorf("cache.addr is required when the cache is enabled"))
	}
	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "arbitration-rag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Corpus:      CorpusConfig{Dir: "data/cases"},
		Chunker:     ChunkerConfig{ChunkSize: 500, Overlap: 50},
		Embedder:    EmbedderConfig{Type: "hash", Dimension: 1536},
		VectorStore: VectorStoreConfig{Index: "scan"},
		Generator:   GeneratorConfig{Type: "extractive", MaxTokens: 1024, Temperature: 0.2},
		Retrieval:   RetrievalConfig{TopK: 5, MetadataTopK: 10, LexicalFallback: true},
		Summarizer:  SummarizerConfig{MaxSentences: 5},
		Cache:       CacheConfig{Addr: "localhost:6379", TTLSecs: 3600},
		Server:      ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Log:         LogConfig{Level: "info", Pretty: true},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hash"
	}
	if cfg.VectorStore.Index == "" {
		cfg.VectorStore.Index = "scan"
	}
	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "extractive"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 3
		}
	}
	if cfg.Embedder.Type == "bedrock" && cfg.Embedder.Bedrock == nil {
		cfg.Embedder.Bedrock = &BedrockConfig{}
	}
	if cfg.Generator.Type == "bedrock" && cfg.Generator.Bedrock == nil {
		cfg.Generator.Bedrock = &BedrockConfig{}
	}
	for _, b := range []*BedrockConfig{cfg.Embedder.Bedrock, cfg.Generator.Bedrock} {
		if b != nil && b.RegionEnv == "" {
			b.RegionEnv = "AWS_REGION"
		}
	}
	if cfg.Embedder.Type == "langchain" {
		cfg.Embedder.Langchain = langchainDefaults(cfg.Embedder.Langchain, "nomic-embed-text")
	}
	if cfg.Generator.Type == "langchain" {
		cfg.Generator.Langchain = langchainDefaults(cfg.Generator.Langchain, "llama3.2")
	}
	if cfg.VectorStore.Index == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Cache.TTLSecs == 0 {
		cfg.Cache.TTLSecs = 3600
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func langchainDefaults(lc *LangchainConfig, model string) *LangchainConfig {
	if lc == nil {
		lc = &LangchainConfig{}
	}
	if lc.Provider == "" {
		lc.Provider = "ollama"
	}
	if lc.Model == "" {
		lc.Model = model
	}
	if lc.BaseURL == "" && lc.Provider == "ollama" {
		lc.BaseURL = "http://localhost:11434"
	}
	if lc.APIKeyEnv == "" && lc.Provider == "openai" {
		lc.APIKeyEnv = "OPENAI_API_KEY"
	}
	return lc
}

// ResolveRegion reads the AWS region from the environment, then the literal value.
func (b *BedrockConfig) ResolveRegion() string {
	if b == nil {
		return ""
	}
	if v := os.Getenv(b.RegionEnv); b.RegionEnv != "" && v != "" {
		return v
	}
	return b.Region
}

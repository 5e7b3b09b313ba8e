package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	RAG         RAGConfig         `yaml:"rag"`
	Quiz        QuizConfig        `yaml:"quiz"`
	Cache       CacheConfig       `yaml:"cache"`
	Server      ServerConfig      `yaml:"server"`
}

// LLMConfig configures a generation or embedding provider
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Key         string        `yaml:"key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	BatchSize   int           `yaml:"batch_size"`
}

type VectorStoreConfig struct {
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
	// Reset drops the chunk table before it is recreated
	Reset bool `yaml:"reset"`
}

type RAGConfig struct {
	ChunkSize       int    `yaml:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap"`
	Separator       string `yaml:"separator"`
	TopK            int    `yaml:"top_k"`
	DuplicatePolicy string `yaml:"duplicate_policy"`
}

type QuizConfig struct {
	Concurrency   int `yaml:"concurrency"`
	DedupRetries  int `yaml:"dedup_retries"`
	SchemaRetries int `yaml:"schema_retries"`
	DefaultCount  int `yaml:"default_count"`
}

type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr       string        `yaml:"addr"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

const (
	DefaultChunkSize     = 500
	DefaultChunkOverlap  = 50
	DefaultSeparator     = "\n\n"
	DefaultTopK          = 4
	DefaultConcurrency   = 1
	MaxConcurrency       = 4
	DefaultDedupRetries  = 2
	DefaultSchemaRetries = 1
	DefaultQuestionCount = 5
	DefaultTemperature   = 0.4
	DefaultMaxTokens     = 512
	DefaultLLMTimeout    = 60 * time.Second
	DefaultCacheTTL      = 24 * time.Hour
	DefaultSessionTTL    = time.Hour

	DuplicateSkip   = "skip"
	DuplicateReject = "reject"

	StoreChromem  = "chromem"
	StorePGVector = "pgvector"
)

// LoadConfig reads a YAML config, expanding ${VAR} references from the environment.
// A missing file yields the defaults. Keys absent from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Config{
		LLM:  LLMConfig{Temperature: DefaultTemperature},
		Quiz: QuizConfig{DedupRetries: DefaultDedupRetries, SchemaRetries: DefaultSchemaRetries},
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a config that runs fully offline with the hashing embedder
func Default() *Config {
	cfg := &Config{
		LLM: LLMConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.2",
			Temperature: DefaultTemperature,
		},
		Quiz:        QuizConfig{DedupRetries: DefaultDedupRetries, SchemaRetries: DefaultSchemaRetries},
		EmbedLLM:    LLMConfig{Provider: "hash"},
		VectorStore: VectorStoreConfig{Type: StoreChromem, InMemory: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = DefaultChunkSize
	}
	// a negative overlap disables it, zero means unset
	switch {
	case c.RAG.ChunkOverlap == 0:
		c.RAG.ChunkOverlap = DefaultChunkOverlap
	case c.RAG.ChunkOverlap < 0:
		c.RAG.ChunkOverlap = 0
	}
	if c.RAG.Separator == "" {
		c.RAG.Separator = DefaultSeparator
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = DefaultTopK
	}
	if c.RAG.DuplicatePolicy == "" {
		c.RAG.DuplicatePolicy = DuplicateSkip
	}
	if c.Quiz.Concurrency <= 0 {
		c.Quiz.Concurrency = DefaultConcurrency
	}
	if c.Quiz.Concurrency > MaxConcurrency {
		c.Quiz.Concurrency = MaxConcurrency
	}
	// zero retries and zero temperature are valid settings, only negatives fall back
	if c.Quiz.DedupRetries < 0 {
		c.Quiz.DedupRetries = DefaultDedupRetries
	}
	if c.Quiz.SchemaRetries < 0 {
		c.Quiz.SchemaRetries = DefaultSchemaRetries
	}
	if c.Quiz.DefaultCount <= 0 {
		c.Quiz.DefaultCount = DefaultQuestionCount
	}
	if c.LLM.Temperature < 0 {
		c.LLM.Temperature = DefaultTemperature
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = "hash"
	}
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = StoreChromem
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = DefaultSessionTTL
	}
}

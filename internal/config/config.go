package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Store      StoreConfig      `yaml:"store"`
	ChatLLM    LLMConfig        `yaml:"chat_llm"`
	VisionLLM  LLMConfig        `yaml:"vision_llm"`
	EmbedLLM   LLMConfig        `yaml:"embed_llm"`
	Extraction ExtractionConfig `yaml:"extraction"`
	RAG        RAGConfig        `yaml:"rag"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Images     ImagesConfig     `yaml:"images"`
	Assets     AssetsConfig     `yaml:"assets"`
	Cache      CacheConfig      `yaml:"cache"`
	Queue      QueueConfig      `yaml:"queue"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Port          string   `yaml:"port"`
	Mode          string   `yaml:"mode"`
	MaxUploadSize int64    `yaml:"max_upload_size"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"`
	Debug    bool   `yaml:"debug"`
}

// StoreConfig selects where documents, chunks and images live.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	LocalPath     string `yaml:"local_path"`
	EncryptionKey string `yaml:"encryption_key"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	Key            string  `yaml:"key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	RequestsPerMin int     `yaml:"requests_per_min"`
	Timeout        string  `yaml:"timeout"`
}

// TimeoutDuration parses Timeout, falling back to def.
func (c LLMConfig) TimeoutDuration(def time.Duration) time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return def
}

type ExtractionConfig struct {
	Provider     string `yaml:"provider"`
	GeminiKey    string `yaml:"gemini_key"`
	GeminiModel  string `yaml:"gemini_model"`
	PollInterval string `yaml:"poll_interval"`
	Timeout      string `yaml:"timeout"`
}

type RAGConfig struct {
	ChunkSize              int     `yaml:"chunk_size"`
	ChunkOverlap           int     `yaml:"chunk_overlap"`
	MinParagraphSize       int     `yaml:"min_paragraph_size"`
	EmbeddingDimension     int     `yaml:"embedding_dimension"`
	EmbedBatchSize         int     `yaml:"embed_batch_size"`
	MaxEmbedInput          int     `yaml:"max_embed_input"`
	ChunkLimit             int     `yaml:"chunk_limit"`
	ImageLimit             int     `yaml:"image_limit"`
	ChunkThreshold         float64 `yaml:"chunk_threshold"`
	ImageThreshold         float64 `yaml:"image_threshold"`
	ImageFallbackThreshold float64 `yaml:"image_fallback_threshold"`
	MaxFallbackImages      int     `yaml:"max_fallback_images"`
}

type IngestConfig struct {
	PageConcurrency int  `yaml:"page_concurrency"`
	CacheAnalyses   bool `yaml:"cache_analyses"`
}

type ImagesConfig struct {
	MinDimension   int  `yaml:"min_dimension"`
	ExtractFromPDF bool `yaml:"extract_from_pdf"`
}

type AssetsConfig struct {
	Dir       string `yaml:"dir"`
	URLPrefix string `yaml:"url_prefix"`
}

type CacheConfig struct {
	Path string `yaml:"path"`
}

type QueueConfig struct {
	Enabled     bool   `yaml:"enabled"`
	RedisAddr   string `yaml:"redis_addr"`
	Password    string `yaml:"password"`
	Concurrency int    `yaml:"concurrency"`
}

const (
	defaultChunkSize        = 800
	defaultChunkOverlap     = 100
	defaultMinParagraphSize = 50
	defaultDimension        = 1536
	defaultEmbedBatchSize   = 20
	defaultMaxEmbedInput    = 8000
)

// LoadConfig reads the yaml file at path, loads .env when present and lets
// environment variables override secrets. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.Database.URL, "DATABASE_URL")
	overrideString(&cfg.Database.Password, "DATABASE_PASSWORD")
	overrideString(&cfg.ChatLLM.Key, "OPENAI_API_KEY")
	overrideString(&cfg.VisionLLM.Key, "OPENAI_API_KEY")
	overrideString(&cfg.EmbedLLM.Key, "OPENAI_API_KEY")
	overrideString(&cfg.ChatLLM.BaseURL, "OPENAI_BASE_URL")
	overrideString(&cfg.VisionLLM.BaseURL, "OPENAI_BASE_URL")
	overrideString(&cfg.EmbedLLM.BaseURL, "OPENAI_BASE_URL")
	overrideString(&cfg.Extraction.GeminiKey, "GEMINI_API_KEY")
	overrideString(&cfg.Queue.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.Server.Port, "PORT")
	overrideString(&cfg.Store.EncryptionKey, "STORE_ENCRYPTION_KEY")
	if v := os.Getenv("QUEUE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Queue.Enabled = b
		}
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = 50 << 20
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "postgres"
	}
	if cfg.Store.LocalPath == "" {
		cfg.Store.LocalPath = "./data/vectors"
	}

	applyLLMDefaults(&cfg.ChatLLM, "gpt-4o-mini")
	applyLLMDefaults(&cfg.VisionLLM, "gpt-4o")
	applyLLMDefaults(&cfg.EmbedLLM, "text-embedding-3-small")
	if cfg.ChatLLM.MaxTokens == 0 {
		cfg.ChatLLM.MaxTokens = 1500
	}
	if cfg.VisionLLM.MaxTokens == 0 {
		cfg.VisionLLM.MaxTokens = 4096
	}

	if cfg.Extraction.Provider == "" {
		cfg.Extraction.Provider = "gemini"
		if cfg.Extraction.GeminiKey == "" {
			cfg.Extraction.Provider = "local"
		}
	}
	if cfg.Extraction.GeminiModel == "" {
		cfg.Extraction.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.Extraction.PollInterval == "" {
		cfg.Extraction.PollInterval = "2s"
	}
	if cfg.Extraction.Timeout == "" {
		cfg.Extraction.Timeout = "5m"
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if cfg.RAG.MinParagraphSize == 0 {
		cfg.RAG.MinParagraphSize = defaultMinParagraphSize
	}
	if cfg.RAG.EmbeddingDimension == 0 {
		cfg.RAG.EmbeddingDimension = defaultDimension
	}
	if cfg.RAG.EmbedBatchSize == 0 {
		cfg.RAG.EmbedBatchSize = defaultEmbedBatchSize
	}
	if cfg.RAG.MaxEmbedInput == 0 {
		cfg.RAG.MaxEmbedInput = defaultMaxEmbedInput
	}
	if cfg.RAG.ChunkLimit == 0 {
		cfg.RAG.ChunkLimit = 8
	}
	if cfg.RAG.ImageLimit == 0 {
		cfg.RAG.ImageLimit = 4
	}
	if cfg.RAG.ChunkThreshold == 0 {
		cfg.RAG.ChunkThreshold = 0.3
	}
	if cfg.RAG.ImageThreshold == 0 {
		cfg.RAG.ImageThreshold = 0.25
	}
	if cfg.RAG.ImageFallbackThreshold == 0 {
		cfg.RAG.ImageFallbackThreshold = 0.5
	}
	if cfg.RAG.MaxFallbackImages == 0 {
		cfg.RAG.MaxFallbackImages = 2
	}

	if cfg.Ingest.PageConcurrency == 0 {
		cfg.Ingest.PageConcurrency = 3
	}
	if cfg.Images.MinDimension == 0 {
		cfg.Images.MinDimension = 100
	}
	if cfg.Assets.Dir == "" {
		cfg.Assets.Dir = "./data/assets"
	}
	if cfg.Assets.URLPrefix == "" {
		cfg.Assets.URLPrefix = "/assets"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "./data/cache"
	}
	if cfg.Queue.RedisAddr == "" {
		cfg.Queue.RedisAddr = "localhost:6379"
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 2
	}
}

func applyLLMDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.RequestsPerMin == 0 {
		c.RequestsPerMin = 60
	}
	if c.Timeout == "" {
		c.Timeout = "120s"
	}
}

// Duration parses a duration string, returning def when empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every knob the application reads. Values come from an
// optional YAML file, overridden by environment variables (a .env file is
// honored when present).
type Config struct {
	OpenAI    OpenAIConfig    `yaml:"openai"`
	RAG       RAGConfig       `yaml:"rag"`
	Storage   StorageConfig   `yaml:"storage"`
	HubSpot   HubSpotConfig   `yaml:"hubspot"`
	Messenger MessengerConfig `yaml:"messenger"`
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"log_level"`
}

type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	LLMModel       string `yaml:"llm_model"`
}

type RAGConfig struct {
	ChunkSize           int  `yaml:"chunk_size"`
	ChunkOverlap        int  `yaml:"chunk_overlap"`
	TopK                int  `yaml:"top_k"`
	IngestBatchSize     int  `yaml:"ingest_batch_size"`
	SkipQueryCorrection bool `yaml:"skip_query_correction"`
}

type StorageConfig struct {
	VectorDBPath   string `yaml:"vector_db_path"`
	CollectionName string `yaml:"collection_name"`
	DBPath         string `yaml:"db_path"`
	Debug          bool   `yaml:"debug"`
}

type HubSpotConfig struct {
	AccessToken   string `yaml:"access_token"`
	BaseURL       string `yaml:"base_url"`
	CacheTTLHours int    `yaml:"cache_ttl_hours"`
}

type MessengerConfig struct {
	PageAccessToken string `yaml:"page_access_token"`
	AppSecret       string `yaml:"app_secret"`
	VerifyToken     string `yaml:"verify_token"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	WebhookPort string `yaml:"webhook_port"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables. A missing YAML file at an explicit path
// is an error; path == "" skips the file entirely.
func Load(path string) (*Config, error) {
	// Load .env if present; absence is fine.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			LLMModel:       "gpt-4o-mini",
		},
		RAG: RAGConfig{
			ChunkSize:       1000,
			ChunkOverlap:    200,
			TopK:            15,
			IngestBatchSize: 500,
		},
		Storage: StorageConfig{
			VectorDBPath:   "./vector_db",
			CollectionName: "notebook_docs",
			DBPath:         "./messenger.db",
		},
		HubSpot: HubSpotConfig{
			CacheTTLHours: 24,
		},
		Server: ServerConfig{
			Port:        "8080",
			WebhookPort: "8081",
		},
		LogLevel: "info",
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&cfg.OpenAI.LLMModel, "LLM_MODEL")

	setInt(&cfg.RAG.ChunkSize, "CHUNK_SIZE")
	setInt(&cfg.RAG.ChunkOverlap, "CHUNK_OVERLAP")
	setInt(&cfg.RAG.TopK, "TOP_K")
	setInt(&cfg.RAG.IngestBatchSize, "INGEST_BATCH_SIZE")
	setBool(&cfg.RAG.SkipQueryCorrection, "SKIP_QUERY_CORRECTION")

	setString(&cfg.Storage.VectorDBPath, "VECTOR_DB_PATH")
	setString(&cfg.Storage.CollectionName, "COLLECTION_NAME")
	setString(&cfg.Storage.DBPath, "DB_PATH")
	setBool(&cfg.Storage.Debug, "STORAGE_DEBUG")

	setString(&cfg.HubSpot.AccessToken, "HUBSPOT_ACCESS_TOKEN")
	setString(&cfg.HubSpot.BaseURL, "HUBSPOT_BASE_URL")
	setInt(&cfg.HubSpot.CacheTTLHours, "HUBSPOT_CACHE_TTL_HOURS")

	setString(&cfg.Messenger.PageAccessToken, "FB_PAGE_ACCESS_TOKEN")
	setString(&cfg.Messenger.AppSecret, "FB_APP_SECRET")
	setString(&cfg.Messenger.VerifyToken, "FB_VERIFY_TOKEN")

	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.WebhookPort, "WEBHOOK_PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
}

// ValidateForChat reports whether the config can drive the embedding and
// completion APIs. The webhook binary tolerates a missing key and degrades
// to canned replies, so this is a separate check rather than part of Load.
func (c *Config) ValidateForChat() error {
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

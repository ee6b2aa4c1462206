package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Milvus     MilvusConfig
	Neo4j      Neo4jConfig
	LLM        LLMConfig
	Scraper    ScraperConfig
	Sync       SyncConfig
	Vocab      VocabConfig
	Checkpoint CheckpointConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	Environment  string
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	// RateLimitPerMinute caps requests per client IP. Sync and ask endpoints
	// fan out to scraping and model calls, so the cap is deliberately low.
	RateLimitPerMinute int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	// CacheTTLSec bounds how long enrichment and search results stay cached.
	CacheTTLSec int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type LLMConfig struct {
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	EmbeddingModel string
}

type ScraperConfig struct {
	BaseURL        string
	UserAgent      string
	TimeoutSec     int
	RequestDelayMs int
	MaxPages       int
	// Government is the term number stamped into keys when a catalog item
	// does not carry its own.
	Government int
}

type SyncConfig struct {
	BatchSize     int
	InsertRetries int
	RecordRetries int
	RetryDelayMs  int
}

type VocabConfig struct {
	PolicyAreasPath      string
	GovernmentBodiesPath string
}

type CheckpointConfig struct {
	Backend string
	Path    string
	Key     string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/govdec")

	viper.SetEnvPrefix("GOVDEC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.environment", "development")
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)
	viper.SetDefault("server.rateLimitPerMinute", 60)

	viper.SetDefault("sqlite.path", "./data/decisions.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.cacheTTLSec", 86400)

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "decisions")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("neo4j.enabled", false)
	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")

	viper.SetDefault("scraper.baseURL", "https://www.gov.il")
	viper.SetDefault("scraper.userAgent", "govdec-sync/1.0")
	viper.SetDefault("scraper.timeoutSec", 30)
	viper.SetDefault("scraper.requestDelayMs", 500)
	viper.SetDefault("scraper.maxPages", 50)
	viper.SetDefault("scraper.government", 37)

	viper.SetDefault("sync.batchSize", 50)
	viper.SetDefault("sync.insertRetries", 3)
	viper.SetDefault("sync.recordRetries", 2)
	viper.SetDefault("sync.retryDelayMs", 200)

	viper.SetDefault("vocab.policyAreasPath", "./config/vocab/policy_areas.yaml")
	viper.SetDefault("vocab.governmentBodiesPath", "./config/vocab/government_bodies.yaml")

	viper.SetDefault("checkpoint.backend", "file")
	viper.SetDefault("checkpoint.path", "./data/migration_checkpoint.json")
	viper.SetDefault("checkpoint.key", "govdec:migration:checkpoint")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

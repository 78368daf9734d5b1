// Package config resolves gateway settings from defaults, an optional config
// file, an optional .env file and the environment, in increasing priority.
// Environment names are the upper-cased keys with dots replaced by
// underscores, e.g. deepseek.api_key is DEEPSEEK_API_KEY.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"assistgen/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by chat_service and reason_service.
const (
	ServiceDeepseek = "deepseek"
	ServiceOllama   = "ollama"
	ServiceGRPC     = "grpc"
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheSQLite = "sqlite"
	CacheQdrant = "qdrant"
	CacheGRPC   = "grpc"
)

const redacted = "****"

type Config struct {
	Listen        string `mapstructure:"listen" yaml:"listen"`
	StaticDir     string `mapstructure:"static_dir" yaml:"static_dir"`
	DebugMode     bool   `mapstructure:"debug_mode" yaml:"debug_mode"`
	ChatService   string `mapstructure:"chat_service" yaml:"chat_service"`
	ReasonService string `mapstructure:"reason_service" yaml:"reason_service"`
	SerpAPIKey    string `mapstructure:"serpapi_key" yaml:"serpapi_key"`

	Deepseek   DeepseekConfig   `mapstructure:"deepseek" yaml:"deepseek"`
	Ollama     OllamaConfig     `mapstructure:"ollama" yaml:"ollama"`
	Completion CompletionConfig `mapstructure:"completion" yaml:"completion"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" yaml:"embedding"`
	Replay     ReplayConfig     `mapstructure:"replay" yaml:"replay"`
	Log        logging.Config   `mapstructure:"log" yaml:"log"`
}

type DeepseekConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
}

type OllamaConfig struct {
	BaseURL     string `mapstructure:"base_url" yaml:"base_url"`
	ChatModel   string `mapstructure:"chat_model" yaml:"chat_model"`
	ReasonModel string `mapstructure:"reason_model" yaml:"reason_model"`
}

// CompletionConfig covers the standalone completion server. Service is the
// provider it serves; GRPCAddr is what chat_service=grpc dials.
type CompletionConfig struct {
	Service    string `mapstructure:"service" yaml:"service"`
	GRPCAddr   string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	GRPCListen string `mapstructure:"grpc_listen" yaml:"grpc_listen"`
}

type CacheConfig struct {
	Backend             string  `mapstructure:"backend" yaml:"backend"`
	MaxSize             int     `mapstructure:"max_size" yaml:"max_size"`
	SimilarityThreshold float32 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`

	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`

	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`

	QdrantHost       string `mapstructure:"qdrant_host" yaml:"qdrant_host"`
	QdrantPort       int    `mapstructure:"qdrant_port" yaml:"qdrant_port"`
	QdrantCollection string `mapstructure:"qdrant_collection" yaml:"qdrant_collection"`
	QueueSize        int    `mapstructure:"queue_size" yaml:"queue_size"`
	Workers          int    `mapstructure:"workers" yaml:"workers"`

	// GRPCAddr is the remote cache the gateway dials; GRPCListen is where
	// the cache server listens.
	GRPCAddr   string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	GRPCListen string `mapstructure:"grpc_listen" yaml:"grpc_listen"`
}

type EmbeddingConfig struct {
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`
	Model      string `mapstructure:"model" yaml:"model"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`

	// GRPCAddr, when set, replaces the HTTP endpoint with a remote
	// embedding server.
	GRPCAddr   string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	GRPCListen string `mapstructure:"grpc_listen" yaml:"grpc_listen"`
}

type ReplayConfig struct {
	Width    int           `mapstructure:"width" yaml:"width"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

var defaults = map[string]any{
	"listen":         ":8000",
	"static_dir":     "",
	"debug_mode":     false,
	"chat_service":   ServiceDeepseek,
	"reason_service": ServiceOllama,
	"serpapi_key":    "",

	"deepseek.api_key":  "",
	"deepseek.base_url": "https://api.deepseek.com/v1",
	"deepseek.model":    "deepseek-chat",

	"ollama.base_url":     "http://localhost:11434",
	"ollama.chat_model":   "",
	"ollama.reason_model": "",

	"completion.service":     ServiceDeepseek,
	"completion.grpc_addr":   "localhost:50053",
	"completion.grpc_listen": ":50053",

	"cache.backend":              CacheMemory,
	"cache.max_size":             100,
	"cache.similarity_threshold": 0.95,
	"cache.redis_addr":           "localhost:6379",
	"cache.redis_password":       "",
	"cache.redis_db":             0,
	"cache.sqlite_path":          "assistgen_cache.db",
	"cache.qdrant_host":          "localhost",
	"cache.qdrant_port":          6334,
	"cache.qdrant_collection":    "llm_semantic_cache",
	"cache.queue_size":           1000,
	"cache.workers":              5,
	"cache.grpc_addr":            "localhost:50052",
	"cache.grpc_listen":          ":50052",

	"embedding.endpoint":    "https://api.openai.com/v1/embeddings",
	"embedding.model":       "text-embedding-3-small",
	"embedding.api_key":     "",
	"embedding.dimensions":  1536,
	"embedding.grpc_addr":   "",
	"embedding.grpc_listen": ":50051",

	"replay.width":    4,
	"replay.interval": "50ms",

	"log.level":        "ERROR",
	"log.file":         "",
	"log.max_size_mb":  100,
	"log.max_backups":  10,
	"log.max_age_days": 30,
}

// Load reads envFile (if it exists) into the environment, then resolves the
// configuration. configFile may be empty.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the standalone embedding service used OPENAI_API_KEY
	if err := v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that every selected provider and backend has what it needs.
func (c *Config) Validate() error {
	var errs []error
	for role, svc := range map[string]string{"chat_service": c.ChatService, "reason_service": c.ReasonService} {
		switch svc {
		case ServiceDeepseek:
			if c.Deepseek.APIKey == "" || c.Deepseek.BaseURL == "" || c.Deepseek.Model == "" {
				errs = append(errs, fmt.Errorf("%s=%s requires DEEPSEEK_API_KEY, DEEPSEEK_BASE_URL and DEEPSEEK_MODEL", role, svc))
			}
		case ServiceOllama:
			if c.Ollama.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s=%s requires OLLAMA_BASE_URL", role, svc))
			}
		case ServiceGRPC:
			if c.Completion.GRPCAddr == "" {
				errs = append(errs, fmt.Errorf("%s=%s requires COMPLETION_GRPC_ADDR", role, svc))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown %s %q", role, svc))
		}
	}
	if c.ChatService == ServiceOllama && c.Ollama.ChatModel == "" {
		errs = append(errs, errors.New("chat_service=ollama requires OLLAMA_CHAT_MODEL"))
	}
	if c.ReasonService == ServiceOllama && c.Ollama.ReasonModel == "" {
		errs = append(errs, errors.New("reason_service=ollama requires OLLAMA_REASON_MODEL"))
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory, CacheRedis, CacheSQLite, CacheGRPC:
	case CacheQdrant:
		if c.Embedding.APIKey == "" && c.Embedding.GRPCAddr == "" {
			errs = append(errs, errors.New("cache backend qdrant requires EMBEDDING_API_KEY or EMBEDDING_GRPC_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.Backend != CacheNone && c.Cache.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("cache max_size must be positive, got %d", c.Cache.MaxSize))
	}
	if c.Replay.Width <= 0 {
		errs = append(errs, fmt.Errorf("replay width must be positive, got %d", c.Replay.Width))
	}
	if c.Replay.Interval < 0 {
		errs = append(errs, fmt.Errorf("replay interval must not be negative, got %s", c.Replay.Interval))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with every secret masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.SerpAPIKey)
	mask(&c.Deepseek.APIKey)
	mask(&c.Cache.RedisPassword)
	mask(&c.Embedding.APIKey)
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	r := c.Redacted()
	return yaml.Marshal(&r)
}

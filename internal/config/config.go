// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// UploadTimeout applies to job creation, which may download the source.
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	// ProcessTimeout applies to synchronous pipeline runs.
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	// UploadsPerMinute limits job creation per client address when redis
	// is configured; zero disables the limit.
	UploadsPerMinute int `yaml:"uploads_per_minute"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres|sqlite
	URL    string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"` // local|supabase
	LocalRoot     string `yaml:"local_root"`
	PublicBaseURL string `yaml:"public_base_url"`
	SupabaseURL   string `yaml:"supabase_url"`
	SupabaseKey   string `yaml:"supabase_key"`
	Bucket        string `yaml:"bucket"`
}

type AIConfig struct {
	Provider        string        `yaml:"provider"` // openai|gemini|multi|none
	OpenAIKey       string        `yaml:"openai_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	OpenAIModel     string        `yaml:"openai_model"`
	GeminiKey       string        `yaml:"gemini_key"`
	GeminiURL       string        `yaml:"gemini_url"`
	GeminiModel     string        `yaml:"gemini_model"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent AI calls
	Timeout         time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	StuckAfter     time.Duration `yaml:"stuck_after"`
	ReapInterval   time.Duration `yaml:"reap_interval"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	UseAI          bool          `yaml:"use_ai"`
	// FetchURLs enables uploads by source url.
	FetchURLs bool `yaml:"fetch_urls"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Notify   NotifyConfig   `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev, loads an optional .env next to the
// working directory and reads the yaml file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	return Load(configPath, dev)
}

// Load reads path, applies environment overrides and defaults, and validates.
// A missing file is allowed; everything then comes from env and defaults.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setStr(&cfg.HTTP.Addr, "HTTP_ADDR")
	setStr(&cfg.Database.Driver, "DATABASE_DRIVER")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setStr(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setStr(&cfg.Storage.SupabaseURL, "SUPABASE_URL")
	setStr(&cfg.Storage.SupabaseKey, "SUPABASE_KEY")
	setStr(&cfg.AI.Provider, "AI_PROVIDER")
	setStr(&cfg.AI.OpenAIKey, "OPENAI_API_KEY")
	setStr(&cfg.AI.GeminiKey, "GEMINI_API_KEY")
	setStr(&cfg.Notify.Telegram.Token, "TELEGRAM_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = id
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.UploadTimeout <= 0 {
		cfg.HTTP.UploadTimeout = 2 * time.Minute
	}
	if cfg.HTTP.ProcessTimeout <= 0 {
		cfg.HTTP.ProcessTimeout = 5 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "local"
	}
	if cfg.Storage.LocalRoot == "" {
		cfg.Storage.LocalRoot = "./data/images"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "product-images"
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "none"
	}
	if cfg.AI.OpenAIModel == "" {
		cfg.AI.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.AI.GeminiModel == "" {
		cfg.AI.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 4
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 30 * time.Second
	}

	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 2
	}
	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = cfg.Pipeline.Workers * 4
	}
	if cfg.Pipeline.PollInterval <= 0 {
		cfg.Pipeline.PollInterval = 2 * time.Second
	}
	if cfg.Pipeline.JobTimeout <= 0 {
		cfg.Pipeline.JobTimeout = 3 * time.Minute
	}
	if cfg.Pipeline.StuckAfter <= 0 {
		cfg.Pipeline.StuckAfter = 3 * cfg.Pipeline.JobTimeout
	}
	if cfg.Pipeline.ReapInterval <= 0 {
		cfg.Pipeline.ReapInterval = time.Minute
	}
}

// Validate performs minimal checks on the loaded values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for postgres")
		}
	case "sqlite":
		if c.Database.URL == "" {
			c.Database.URL = "file:pipeline.db?_pragma=busy_timeout(5000)"
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "local":
	case "supabase":
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			return errors.New("storage.supabase_url and storage.supabase_key are required for supabase")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.AI.Provider {
	case "none":
	case "openai":
		if c.AI.OpenAIKey == "" {
			return errors.New("ai.openai_key is required for openai")
		}
	case "gemini":
		if c.AI.GeminiKey == "" {
			return errors.New("ai.gemini_key is required for gemini")
		}
	case "multi":
		if c.AI.OpenAIKey == "" && c.AI.GeminiKey == "" {
			return errors.New("ai.multi needs at least one provider key")
		}
	default:
		return fmt.Errorf("ai.provider %q is not supported", c.AI.Provider)
	}
	if c.Pipeline.MaxUploadBytes < 0 {
		return errors.New("pipeline.max_upload_bytes must not be negative")
	}
	if c.Pipeline.StuckAfter <= c.Pipeline.JobTimeout {
		// the reaper would fail jobs that are still inside their run deadline
		return fmt.Errorf("pipeline.stuck_after (%s) must be longer than pipeline.job_timeout (%s)",
			c.Pipeline.StuckAfter, c.Pipeline.JobTimeout)
	}
	if c.Notify.Telegram.Token != "" && c.Notify.Telegram.ChatID == 0 {
		return errors.New("notify.telegram.chat_id is required when a token is set")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

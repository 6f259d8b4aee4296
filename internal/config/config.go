package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN      string
	HTTPAddr         string
	AdminToken       string
	CORSOrigins      []string
	ElasticURL       string
	AMQPURL          string
	MissionsSeedFile string
	LogFormat        string
	LogLevel         slog.Level
	Notion           NotionConfig
	Sync             SyncConfig
}

// NotionConfig carries the CRM credential and one database id per catalog.
type NotionConfig struct {
	Token      string
	BaseURL    string
	LeadsDB    string
	MissionsDB string
	RaffleDB   string
	GalleryDB  string
}

type SyncConfig struct {
	BatchSize    int
	RateLimit    int
	RateWindow   time.Duration
	Timeout      time.Duration
	MaxAttempts  int
	PollInterval time.Duration
	// DLQRetryInterval paces the background sweep that replays parked
	// events; zero disables it.
	DLQRetryInterval time.Duration
}

func (n NotionConfig) Enabled() bool {
	return n.Token != ""
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	env := envReader{lookup: lookup}
	cfg := Config{
		PostgresDSN:      env.str("POSTGRES_DSN", ""),
		HTTPAddr:         env.str("HTTP_ADDR", ":8080"),
		AdminToken:       env.str("ADMIN_TOKEN", ""),
		CORSOrigins:      env.list("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		ElasticURL:       env.str("ELASTIC_URL", ""),
		AMQPURL:          env.str("AMQP_URL", ""),
		MissionsSeedFile: env.str("MISSIONS_SEED_FILE", "missions.yaml"),
		LogFormat:        strings.ToLower(env.str("LOG_FORMAT", "text")),
		Notion: NotionConfig{
			Token:      env.str("NOTION_TOKEN", ""),
			BaseURL:    env.str("NOTION_BASE_URL", ""),
			LeadsDB:    env.str("NOTION_LEADS_DB", ""),
			MissionsDB: env.str("NOTION_MISSIONS_DB", ""),
			RaffleDB:   env.str("NOTION_RAFFLE_DB", ""),
			GalleryDB:  env.str("NOTION_GALLERY_DB", ""),
		},
		Sync: SyncConfig{
			BatchSize:        env.integer("SYNC_BATCH_SIZE", 50),
			RateLimit:        env.integer("SYNC_RATE_LIMIT", 3),
			RateWindow:       env.duration("SYNC_RATE_WINDOW", time.Second),
			Timeout:          env.duration("SYNC_TIMEOUT", 10*time.Second),
			MaxAttempts:      env.integer("SYNC_MAX_ATTEMPTS", 8),
			PollInterval:     env.duration("SYNC_POLL_INTERVAL", time.Second),
			DLQRetryInterval: env.duration("SYNC_DLQ_RETRY_INTERVAL", 5*time.Minute),
		},
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(env.str("LOG_LEVEL", "info"))); err != nil {
		env.fail("LOG_LEVEL", err)
	}
	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("config: POSTGRES_DSN is required")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	positive := map[string]int{
		"SYNC_BATCH_SIZE":   c.Sync.BatchSize,
		"SYNC_RATE_LIMIT":   c.Sync.RateLimit,
		"SYNC_MAX_ATTEMPTS": c.Sync.MaxAttempts,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, v)
		}
	}
	if c.Sync.RateWindow <= 0 || c.Sync.Timeout <= 0 || c.Sync.PollInterval <= 0 {
		return fmt.Errorf("config: sync durations must be positive")
	}
	if c.Sync.DLQRetryInterval < 0 {
		return fmt.Errorf("config: SYNC_DLQ_RETRY_INTERVAL must not be negative")
	}
	if c.Notion.Enabled() && c.Notion.LeadsDB == "" {
		return fmt.Errorf("config: NOTION_LEADS_DB is required when NOTION_TOKEN is set")
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) list(key string, def []string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *envReader) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return v
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return v
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s: %w", key, err)
	}
}

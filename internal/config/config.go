// Package config loads and validates the engine configuration from a TOML
// file, an optional .env file, and ODDYSSEY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full engine configuration.
type Config struct {
	LogLevel string `toml:"log_level"`

	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Provider  ProviderConfig  `toml:"provider"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Ingest    IngestConfig    `toml:"ingest"`
	Resolver  ResolverConfig  `toml:"resolver"`
	Evaluator EvaluatorConfig `toml:"evaluator"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
}

// DatabaseConfig configures the postgres connection pool.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig configures the redis client used for locks, leaderboard
// caching, the event bus, and API rate limiting.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ProviderConfig configures the SportMonks API client.
type ProviderConfig struct {
	BaseURL             string   `toml:"base_url"`
	APIToken            string   `toml:"api_token"`
	RequestInterval     duration `toml:"request_interval"`
	RequestTimeout      duration `toml:"request_timeout"`
	MaxRetries          int      `toml:"max_retries"`
	RetryBackoff        duration `toml:"retry_backoff"`
	ExcludedLeagueTerms []string `toml:"excluded_league_terms"`
}

// LedgerConfig configures the on-chain Oddyssey contract client. Exactly one
// of PrivateKey or EncryptedKeyPath+KeyPassword must be set.
type LedgerConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	ContractAddress    string   `toml:"contract_address"`
	PrivateKey         string   `toml:"private_key"`
	EncryptedKeyPath   string   `toml:"encrypted_key_path"`
	KeyPassword        string   `toml:"key_password"`
	GasPriceCeilingWei int64    `toml:"gas_price_ceiling_wei"`
	Confirmations      uint64   `toml:"confirmations"`
	WriteTimeout       duration `toml:"write_timeout"`
	ReadTimeout        duration `toml:"read_timeout"`
}

// LifecycleConfig configures cycle opening and deadline watching.
type LifecycleConfig struct {
	// OpenCron is the schedule for opening the daily cycle, in UTC.
	OpenCron     string   `toml:"open_cron"`
	DeadlineTick duration `toml:"deadline_tick"`
}

// IngestConfig configures fixture and result ingestion loops.
type IngestConfig struct {
	FixtureSyncInterval duration `toml:"fixture_sync_interval"`
	ResultsInterval     duration `toml:"results_interval"`
}

// ResolverConfig configures the resolution decider and the oracle bot.
type ResolverConfig struct {
	DeciderTick     duration `toml:"decider_tick"`
	BotFallbackTick duration `toml:"bot_fallback_tick"`
	BotMaxAttempts  int      `toml:"bot_max_attempts"`
	BotRetryBackoff duration `toml:"bot_retry_backoff"`
}

// EvaluatorConfig configures slip evaluation.
type EvaluatorConfig struct {
	FallbackTick duration `toml:"fallback_tick"`
}

// ArchiveConfig configures cold archival of evaluated cycles to S3.
type ArchiveConfig struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKeyID     string   `toml:"access_key_id"`
	SecretAccessKey string   `toml:"secret_access_key"`
	UsePathStyle    bool     `toml:"use_path_style"`
	RetainFor       duration `toml:"retain_for"`
	BatchLimit      int      `toml:"batch_limit"`
	Cron            string   `toml:"cron"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig configures alert channels. A channel with no credentials is
// simply not wired.
type NotifyConfig struct {
	TelegramBotToken  string   `toml:"telegram_bot_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML values like "90s" parse directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration with sane defaults for everything that
// has one. Credentials and endpoints have no defaults and must be provided.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			MaxConns:      10,
			MinConns:      2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Provider: ProviderConfig{
			BaseURL:         "https://api.sportmonks.com/v3/football",
			RequestInterval: duration{350 * time.Millisecond},
			RequestTimeout:  duration{30 * time.Second},
			MaxRetries:      3,
			RetryBackoff:    duration{time.Second},
			ExcludedLeagueTerms: []string{
				"friendly", "women", "u19", "u20", "u21", "u23", "reserve", "youth",
			},
		},
		Ledger: LedgerConfig{
			Confirmations: 1,
			WriteTimeout:  duration{2 * time.Minute},
			ReadTimeout:   duration{30 * time.Second},
		},
		Lifecycle: LifecycleConfig{
			OpenCron:     "5 0 * * *",
			DeadlineTick: duration{30 * time.Second},
		},
		Ingest: IngestConfig{
			FixtureSyncInterval: duration{time.Hour},
			ResultsInterval:     duration{10 * time.Minute},
		},
		Resolver: ResolverConfig{
			DeciderTick:     duration{time.Minute},
			BotFallbackTick: duration{5 * time.Minute},
			BotMaxAttempts:  5,
			BotRetryBackoff: duration{5 * time.Second},
		},
		Evaluator: EvaluatorConfig{
			FallbackTick: duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Region:     "us-east-1",
			RetainFor:  duration{30 * 24 * time.Hour},
			BatchLimit: 50,
			Cron:       "30 4 * * *",
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8080,
			RateLimit:  20,
			RateWindow: duration{time.Second},
		},
	}
}

// Validate checks the configuration and returns every problem found, not
// just the first one.
func (c *Config) Validate() error {
	var problems []string

	// Every timestamp in the engine is UTC. The engine refuses to start in
	// any other timezone instead of repinning the process zone behind the
	// operator's back.
	if tz := os.Getenv("TZ"); tz != "" && tz != "UTC" && tz != "Etc/UTC" {
		problems = append(problems, fmt.Sprintf("TZ=%q; the engine must run with TZ=UTC", tz))
	} else if tz == "" {
		if _, offset := time.Now().Zone(); offset != 0 {
			problems = append(problems, "host timezone is not UTC; set TZ=UTC")
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required")
	}
	if c.Database.MaxConns <= 0 {
		problems = append(problems, "database.max_conns must be positive")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required")
	}

	if c.Provider.APIToken == "" {
		problems = append(problems, "provider.api_token is required")
	}
	if c.Provider.RequestInterval.Duration <= 0 {
		problems = append(problems, "provider.request_interval must be positive")
	}

	if c.Ledger.RPCURL == "" {
		problems = append(problems, "ledger.rpc_url is required")
	}
	if c.Ledger.ContractAddress == "" {
		problems = append(problems, "ledger.contract_address is required")
	}
	hasRaw := c.Ledger.PrivateKey != ""
	hasEncrypted := c.Ledger.EncryptedKeyPath != ""
	switch {
	case !hasRaw && !hasEncrypted:
		problems = append(problems, "ledger requires private_key or encrypted_key_path")
	case hasRaw && hasEncrypted:
		problems = append(problems, "ledger.private_key and ledger.encrypted_key_path are mutually exclusive")
	case hasEncrypted && c.Ledger.KeyPassword == "":
		problems = append(problems, "ledger.key_password is required with encrypted_key_path")
	}
	if c.Ledger.Confirmations == 0 {
		problems = append(problems, "ledger.confirmations must be at least 1")
	}

	if c.Lifecycle.OpenCron == "" {
		problems = append(problems, "lifecycle.open_cron is required")
	}
	if c.Ingest.FixtureSyncInterval.Duration <= 0 {
		problems = append(problems, "ingest.fixture_sync_interval must be positive")
	}
	if c.Ingest.ResultsInterval.Duration <= 0 {
		problems = append(problems, "ingest.results_interval must be positive")
	}
	if c.Resolver.BotMaxAttempts <= 0 {
		problems = append(problems, "resolver.bot_max_attempts must be positive")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			problems = append(problems, "archive.bucket is required when archive is enabled")
		}
		if c.Archive.Cron == "" {
			problems = append(problems, "archive.cron is required when archive is enabled")
		}
		if c.Archive.RetainFor.Duration <= 0 {
			problems = append(problems, "archive.retain_for must be positive")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			problems = append(problems, "server.rate_window must be positive when rate limiting is on")
		}
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

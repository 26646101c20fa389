package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file at path (if
// any), then a .env file in the working directory (if any), then ODDYSSEY_*
// environment variables. The result is validated before return.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr("ODDYSSEY_LOG_LEVEL", &cfg.LogLevel)

	setStr("ODDYSSEY_DATABASE_DSN", &cfg.Database.DSN)
	setInt("ODDYSSEY_DATABASE_MAX_CONNS", &cfg.Database.MaxConns)
	setInt("ODDYSSEY_DATABASE_MIN_CONNS", &cfg.Database.MinConns)
	setBool("ODDYSSEY_DATABASE_RUN_MIGRATIONS", &cfg.Database.RunMigrations)

	setStr("ODDYSSEY_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("ODDYSSEY_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("ODDYSSEY_REDIS_DB", &cfg.Redis.DB)
	setBool("ODDYSSEY_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	setStr("ODDYSSEY_PROVIDER_BASE_URL", &cfg.Provider.BaseURL)
	setStr("ODDYSSEY_PROVIDER_API_TOKEN", &cfg.Provider.APIToken)
	setDuration("ODDYSSEY_PROVIDER_REQUEST_INTERVAL", &cfg.Provider.RequestInterval)
	setInt("ODDYSSEY_PROVIDER_MAX_RETRIES", &cfg.Provider.MaxRetries)
	setDuration("ODDYSSEY_PROVIDER_REQUEST_TIMEOUT", &cfg.Provider.RequestTimeout)
	setStringSlice("ODDYSSEY_PROVIDER_EXCLUDED_LEAGUE_TERMS", &cfg.Provider.ExcludedLeagueTerms)

	setStr("ODDYSSEY_LEDGER_RPC_URL", &cfg.Ledger.RPCURL)
	setStr("ODDYSSEY_LEDGER_CONTRACT_ADDRESS", &cfg.Ledger.ContractAddress)
	setStr("ODDYSSEY_LEDGER_PRIVATE_KEY", &cfg.Ledger.PrivateKey)
	setStr("ODDYSSEY_LEDGER_ENCRYPTED_KEY_PATH", &cfg.Ledger.EncryptedKeyPath)
	setStr("ODDYSSEY_LEDGER_KEY_PASSWORD", &cfg.Ledger.KeyPassword)
	setInt64("ODDYSSEY_LEDGER_GAS_PRICE_CEILING_WEI", &cfg.Ledger.GasPriceCeilingWei)
	setUint64("ODDYSSEY_LEDGER_CONFIRMATIONS", &cfg.Ledger.Confirmations)

	setStr("ODDYSSEY_LIFECYCLE_OPEN_CRON", &cfg.Lifecycle.OpenCron)
	setDuration("ODDYSSEY_LIFECYCLE_DEADLINE_TICK", &cfg.Lifecycle.DeadlineTick)

	setDuration("ODDYSSEY_INGEST_FIXTURE_SYNC_INTERVAL", &cfg.Ingest.FixtureSyncInterval)
	setDuration("ODDYSSEY_INGEST_RESULTS_INTERVAL", &cfg.Ingest.ResultsInterval)

	setDuration("ODDYSSEY_RESOLVER_DECIDER_TICK", &cfg.Resolver.DeciderTick)
	setDuration("ODDYSSEY_RESOLVER_BOT_FALLBACK_TICK", &cfg.Resolver.BotFallbackTick)
	setInt("ODDYSSEY_RESOLVER_BOT_MAX_ATTEMPTS", &cfg.Resolver.BotMaxAttempts)

	setDuration("ODDYSSEY_EVALUATOR_FALLBACK_TICK", &cfg.Evaluator.FallbackTick)

	setBool("ODDYSSEY_ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	setStr("ODDYSSEY_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	setStr("ODDYSSEY_ARCHIVE_REGION", &cfg.Archive.Region)
	setStr("ODDYSSEY_ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	setStr("ODDYSSEY_ARCHIVE_ACCESS_KEY_ID", &cfg.Archive.AccessKeyID)
	setStr("ODDYSSEY_ARCHIVE_SECRET_ACCESS_KEY", &cfg.Archive.SecretAccessKey)
	setBool("ODDYSSEY_ARCHIVE_USE_PATH_STYLE", &cfg.Archive.UsePathStyle)
	setDuration("ODDYSSEY_ARCHIVE_RETAIN_FOR", &cfg.Archive.RetainFor)
	setStr("ODDYSSEY_ARCHIVE_CRON", &cfg.Archive.Cron)

	setBool("ODDYSSEY_SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("ODDYSSEY_SERVER_PORT", &cfg.Server.Port)
	setStringSlice("ODDYSSEY_SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	setStr("ODDYSSEY_SERVER_API_KEY", &cfg.Server.APIKey)
	setInt("ODDYSSEY_SERVER_RATE_LIMIT", &cfg.Server.RateLimit)
	setDuration("ODDYSSEY_SERVER_RATE_WINDOW", &cfg.Server.RateWindow)

	setStr("ODDYSSEY_NOTIFY_TELEGRAM_BOT_TOKEN", &cfg.Notify.TelegramBotToken)
	setStr("ODDYSSEY_NOTIFY_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("ODDYSSEY_NOTIFY_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)
	setStringSlice("ODDYSSEY_NOTIFY_EVENTS", &cfg.Notify.Events)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setUint64(key string, dst *uint64) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(key string, dst *duration) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			dst.Duration = parsed
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dst = out
	}
}

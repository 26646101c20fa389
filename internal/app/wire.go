package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/bitredict/oddyssey-engine/internal/blob/s3"
	"github.com/bitredict/oddyssey-engine/internal/cache/redis"
	"github.com/bitredict/oddyssey-engine/internal/config"
	"github.com/bitredict/oddyssey-engine/internal/crypto"
	"github.com/bitredict/oddyssey-engine/internal/domain"
	"github.com/bitredict/oddyssey-engine/internal/ledger"
	"github.com/bitredict/oddyssey-engine/internal/notify"
	"github.com/bitredict/oddyssey-engine/internal/provider/sportmonks"
	"github.com/bitredict/oddyssey-engine/internal/server/handler"
	"github.com/bitredict/oddyssey-engine/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the engine workers
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Fixtures domain.FixtureStore
	Cycles   domain.CycleStore
	Results  domain.ResultStore
	Slips    domain.SlipStore

	// Redis-backed infrastructure
	Locks       domain.LockManager
	Leaderboard domain.LeaderboardCache
	Bus         domain.EventBus
	RateLimiter domain.RateLimiter

	// External clients
	Provider *sportmonks.Client
	Ledger   *ledger.Client

	// Blob storage; nil unless archival is enabled.
	BlobWriter domain.BlobWriter

	Notifier *notify.Notifier
	Clock    domain.Clock

	// Pingers feed the health endpoint.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Clock:   domain.SystemClock{},
		Pingers: make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	pool := pgClient.Pool()
	deps.Fixtures = postgres.NewFixtureStore(pool)
	deps.Cycles = postgres.NewCycleStore(pool)
	deps.Results = postgres.NewResultStore(pool)
	deps.Slips = postgres.NewSlipStore(pool)
	deps.Pingers["postgres"] = pgClient

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Leaderboard = redis.NewLeaderboardCache(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Pingers["redis"] = redisClient

	// --- Sports provider ---
	deps.Provider = sportmonks.New(sportmonks.Config{
		BaseURL:             cfg.Provider.BaseURL,
		APIToken:            cfg.Provider.APIToken,
		RequestInterval:     cfg.Provider.RequestInterval.Duration,
		Timeout:             cfg.Provider.RequestTimeout.Duration,
		MaxRetries:          cfg.Provider.MaxRetries,
		RetryBackoff:        cfg.Provider.RetryBackoff.Duration,
		ExcludedLeagueTerms: cfg.Provider.ExcludedLeagueTerms,
	}, logger)

	// --- Ledger ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Ledger.PrivateKey,
		EncryptedKeyPath: cfg.Ledger.EncryptedKeyPath,
		KeyPassword:      cfg.Ledger.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signing key: %w", err)
	}
	ledgerClient, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:             cfg.Ledger.RPCURL,
		ContractAddress:    cfg.Ledger.ContractAddress,
		PrivateKeyHex:      keyHex,
		GasPriceCeilingWei: cfg.Ledger.GasPriceCeilingWei,
		Confirmations:      cfg.Ledger.Confirmations,
		WriteTimeout:       cfg.Ledger.WriteTimeout.Duration,
		ReadTimeout:        cfg.Ledger.ReadTimeout.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	closers = append(closers, ledgerClient.Close)
	deps.Ledger = ledgerClient

	// --- S3 blob storage (archival only) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKeyID,
			SecretKey:      cfg.Archive.SecretAccessKey,
			UseSSL:         true,
			ForcePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, deps.Bus, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

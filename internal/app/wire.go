package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/marketgate/internal/blob/s3"
	"github.com/alanyoungcy/marketgate/internal/cache/redis"
	"github.com/alanyoungcy/marketgate/internal/config"
	"github.com/alanyoungcy/marketgate/internal/crypto"
	"github.com/alanyoungcy/marketgate/internal/domain"
	"github.com/alanyoungcy/marketgate/internal/emergency"
	"github.com/alanyoungcy/marketgate/internal/notify"
	"github.com/alanyoungcy/marketgate/internal/platform/kalshi"
	"github.com/alanyoungcy/marketgate/internal/platform/polymarket"
	"github.com/alanyoungcy/marketgate/internal/store/postgres"
)

// AlertStream is the durable history sink for sentinel alerts, implemented by
// the Redis SignalBus via streams.
type AlertStream interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Dependencies bundles everything the application modes need. Optional
// collaborators (Redis, Postgres, S3, notification senders) are nil when the
// corresponding config section is disabled.
type Dependencies struct {
	// Venue clients.
	Kalshi *kalshi.Client
	Gamma  *polymarket.GammaClient
	Clob   *polymarket.ClobClient

	// Signing material for the Kalshi websocket; nil means unauthenticated.
	Signer *crypto.RequestSigner

	// Redis-backed fan-out and latest-book cache.
	SignalBus   domain.SignalBus
	AlertStream AlertStream
	BookCache   domain.OrderbookCache

	// Postgres-backed audit stores.
	StopEventStore   *postgres.StopEventStore
	OpportunityStore *postgres.OpportunityStore

	// S3-backed scan archive.
	Archiver *s3blob.Archiver

	// Notifications.
	Notifier *notify.Notifier

	// Kill switch.
	Emergency *emergency.Controller
	Streams   *emergency.StreamRegistry
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Kalshi request signer ---
	// Missing signing material degrades to an unauthenticated connection:
	// public market data still flows, private channels and order cancellation
	// do not.
	pem, err := crypto.LoadSecret(crypto.KeySource{
		Path:          cfg.Kalshi.RSAPrivateKeyPath,
		EncryptedPath: cfg.Kalshi.EncryptedKeyPath,
		Password:      cfg.Kalshi.KeyPassword,
	})
	if err != nil {
		logger.Warn("kalshi signing key unavailable, continuing unauthenticated",
			slog.String("error", err.Error()))
	} else {
		signer, serr := crypto.NewRequestSigner(cfg.Kalshi.APIKeyID, pem)
		if serr != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kalshi signer: %w", serr)
		}
		deps.Signer = signer
	}

	// --- Venue REST clients ---
	kalshiClient, err := kalshi.NewClient(cfg.Kalshi.BaseURL, deps.Signer)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: kalshi client: %w", err)
	}
	deps.Kalshi = kalshiClient
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Clob = buildClobClient(ctx, cfg, logger)

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		bus := redis.NewSignalBus(redisClient)
		deps.SignalBus = bus
		deps.AlertStream = bus
		deps.BookCache = redis.NewOrderbookCache(redisClient)
	}

	// --- Postgres ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.StopEventStore = postgres.NewStopEventStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	}

	// --- S3 scan archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Emergency kill switch ---
	deps.Streams = emergency.NewStreamRegistry(logger)
	canceller := emergency.NewOrderCanceller(kalshiOrderAPI(deps), polyOrderAPI(deps), logger)

	opts := []emergency.Option{
		emergency.WithOrderCanceller(canceller.CancelAll),
		emergency.WithStreamCloser(deps.Streams.CloseAll),
	}
	if deps.SignalBus != nil {
		opts = append(opts, emergency.WithSignalBus(deps.SignalBus))
	}
	if deps.StopEventStore != nil {
		opts = append(opts, emergency.WithEventStore(deps.StopEventStore))
	}
	deps.Emergency = emergency.NewController(cfg.Emergency.StopFile, logger, opts...)

	return deps, cleanup, nil
}

// buildClobClient constructs the Polymarket CLOB client. With a wallet key it
// derives HMAC credentials so authenticated endpoints (open orders,
// cancel-all) work; without one it still serves public order books.
func buildClobClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) *polymarket.ClobClient {
	keyHex := cfg.Wallet.PrivateKey
	if keyHex == "" && cfg.Wallet.EncryptedKeyPath != "" {
		raw, err := crypto.LoadSecret(crypto.KeySource{
			EncryptedPath: cfg.Wallet.EncryptedKeyPath,
			Password:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			logger.Warn("wallet key unavailable, clob client will be read-only",
				slog.String("error", err.Error()))
		} else {
			keyHex = string(raw)
		}
	}

	if keyHex == "" {
		return polymarket.NewClobClient(cfg.Polymarket.ClobHost, nil, nil)
	}

	signer, err := crypto.NewClobSigner(keyHex, int(cfg.Polymarket.ChainID))
	if err != nil {
		logger.Warn("clob signer unavailable, clob client will be read-only",
			slog.String("error", err.Error()))
		return polymarket.NewClobClient(cfg.Polymarket.ClobHost, nil, nil)
	}

	client := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, nil)
	if err := client.DeriveAPIKey(ctx); err != nil {
		logger.Warn("clob api key derivation failed, cancel-all disabled",
			slog.String("error", err.Error()))
	}
	return client
}

// kalshiOrderAPI returns the Kalshi order surface for the canceller, or nil
// when the client has no signing material (no private endpoints).
func kalshiOrderAPI(deps *Dependencies) emergency.KalshiOrders {
	if deps.Signer == nil {
		return nil
	}
	return deps.Kalshi
}

// polyOrderAPI returns the Polymarket order surface for the canceller.
func polyOrderAPI(deps *Dependencies) emergency.PolyOrders {
	if deps.Clob == nil {
		return nil
	}
	return deps.Clob
}

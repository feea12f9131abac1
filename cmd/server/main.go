package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bibliolivre/storefront/api"
	"github.com/bibliolivre/storefront/billing"
	"github.com/bibliolivre/storefront/checkout"
	"github.com/bibliolivre/storefront/download"
	"github.com/bibliolivre/storefront/fulfillment"
	"github.com/bibliolivre/storefront/pkg/clientip"
	"github.com/bibliolivre/storefront/pkg/config"
	"github.com/bibliolivre/storefront/pkg/httpserver"
	"github.com/bibliolivre/storefront/pkg/logger"
	"github.com/bibliolivre/storefront/pkg/pg"
	"github.com/bibliolivre/storefront/pkg/ratelimit"
	"github.com/bibliolivre/storefront/pkg/requestid"
	"github.com/bibliolivre/storefront/storage"
	"github.com/bibliolivre/storefront/store"
)

type appConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// RedisURL is optional; without it the download rate limiter runs on
	// an in-process store, which is fine for a single replica.
	RedisURL string `env:"REDIS_URL"`

	DownloadRateLimit  int           `env:"DOWNLOAD_RATE_LIMIT" envDefault:"30"`
	DownloadRateWindow time.Duration `env:"DOWNLOAD_RATE_WINDOW" envDefault:"1m"`

	DB       pg.Config
	HTTP     httpserver.Config
	Stripe   billing.Config
	S3       storage.Config
	Checkout checkout.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithEnvironment(cfg.Environment, "storefront"),
		logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
			if id := requestid.FromContext(ctx); id != "" {
				return logger.RequestID(id), true
			}
			return slog.Attr{}, false
		}),
	)
	logger.SetAsDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, cfg.DB, log); err != nil {
		return err
	}

	var limiterStore ratelimit.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		limiterStore = ratelimit.NewRedisStore(client, "dl")
	} else {
		memStore := ratelimit.NewMemoryStore()
		defer memStore.Close()
		limiterStore = memStore
	}
	limiter, err := ratelimit.New(limiterStore, cfg.DownloadRateLimit, cfg.DownloadRateWindow)
	if err != nil {
		return err
	}

	gateway := billing.NewStripe(cfg.Stripe)
	if !gateway.Enabled() {
		log.Warn("stripe is not configured, checkout and webhooks are disabled")
	}
	signer, err := storage.New(ctx, cfg.S3)
	if err != nil {
		return err
	}

	entitlements := store.New(pool)
	production := cfg.Environment == "production"

	router, err := api.NewRouter(api.Deps{
		Checkout:    checkout.New(cfg.Checkout, gateway, entitlements, log.With(logger.Component("checkout"))),
		Processor:   fulfillment.New(gateway, entitlements, log.With(logger.Component("fulfillment"))),
		Downloads:   download.New(entitlements, signer, log.With(logger.Component("download"))),
		Log:         log,
		Production:  production,
		Healthcheck: pg.Healthcheck(pool),
		DownloadLimiter: ratelimit.Middleware(limiter, func(r *http.Request) string {
			return clientip.GetIP(r)
		}),
	})
	if err != nil {
		return err
	}

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	log.Info("server starting",
		slog.String("environment", cfg.Environment),
		slog.Bool("stripe_enabled", gateway.Enabled()),
	)
	return srv.Run(ctx, router)
}

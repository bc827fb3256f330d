package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cntrlx-store/internal/assets"
	"cntrlx-store/internal/catalog"
	"cntrlx-store/internal/config"
	"cntrlx-store/internal/db"
	"cntrlx-store/internal/httpserver"
	"cntrlx-store/internal/identity"
	"cntrlx-store/internal/logging"
	"cntrlx-store/internal/payment"
	"cntrlx-store/internal/ratelimit"
	purchaserepo "cntrlx-store/internal/repository/purchase"
	"cntrlx-store/internal/service/checkout"
	"cntrlx-store/internal/service/download"
	purchasesvc "cntrlx-store/internal/service/purchase"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("app", "api")
	slog.SetDefault(logger)

	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Error("connect to db", "err", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	store, closeStore, err := openAssets(ctx, cfg.Assets)
	if err != nil {
		logger.Error("open asset store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	limiterStore, closeLimiter := openLimiter(ctx, cfg.RedisURL, logger)
	defer closeLimiter()

	if cfg.Stripe.SecretKey == "" || cfg.Stripe.WebhookSecret == "" {
		logger.Warn("stripe secrets missing, checkout and webhook endpoints will fail")
	}
	if cfg.Identity.JWTSecret == "" {
		logger.Warn("identity secret missing, authenticated endpoints will fail")
	}

	provider := payment.NewStripe(payment.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		APIURL:        cfg.Stripe.APIURL,
		Timeout:       cfg.Stripe.Timeout,
	}, logger)
	purchaseRepo := purchaserepo.NewPostgres(dbpool, logger)

	checkoutService := checkout.New(catalog.Default(), provider, cfg.SiteURL, cfg.AllowedOrigins,
		checkout.WithLogger(logger.With("component", "checkout")))
	purchaseService := purchasesvc.New(purchaseRepo, provider, cfg.DownloadWindow,
		purchasesvc.WithLogger(logger.With("component", "purchases")))
	downloadService := download.New(purchaseRepo, store, cfg.DownloadWindow,
		download.WithLogger(logger.With("component", "downloads")))

	srv, err := httpserver.New(cfg.HTTPAddr, logger, dbpool, httpserver.Deps{
		Auth:           identity.NewVerifier(cfg.Identity.JWTSecret, identity.WithAudience(cfg.Identity.Audience)),
		Checkout:       checkoutService,
		Purchases:      purchaseService,
		Downloads:      downloadService,
		Limiter:        limiterStore,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
		Public: httpserver.PublicConfig{
			IdentityURL:     cfg.Identity.URL,
			IdentityAnonKey: cfg.Identity.AnonKey,
			SiteURL:         cfg.SiteURL,
		},
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		logger.Error("init server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	} else {
		logger.Info("server stopped")
	}
}

func openAssets(ctx context.Context, cfg config.AssetsConfig) (assets.Store, func(), error) {
	if cfg.Driver == "s3" {
		s, err := assets.NewS3(ctx, assets.S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
	l, err := assets.NewLocal(cfg.Dir)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { l.Close() }, nil
}

// openLimiter prefers Redis so limits hold across instances; without it
// each process counts on its own.
func openLimiter(ctx context.Context, redisURL string, logger *slog.Logger) (ratelimit.Store, func()) {
	if redisURL == "" {
		logger.Info("rate limiting in memory")
		return ratelimit.NewMemoryStore(), func() {}
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, rate limiting in memory", "err", err)
		return ratelimit.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, rate limiting in memory", "err", err)
		client.Close()
		return ratelimit.NewMemoryStore(), func() {}
	}
	logger.Info("rate limiting in redis", "addr", opts.Addr)
	return ratelimit.NewRedisStore(client, "store:ratelimit:"), func() { client.Close() }
}

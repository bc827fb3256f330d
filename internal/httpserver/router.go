package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cntrlx-store/internal/ratelimit"
	"cntrlx-store/internal/service/checkout"
	"cntrlx-store/internal/service/download"
	purchasesvc "cntrlx-store/internal/service/purchase"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type tokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type checkoutService interface {
	CreateSession(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type purchaseService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*purchasesvc.WebhookResult, error)
	Recover(ctx context.Context, userID, sessionID string) (*purchasesvc.RecoverResult, error)
	List(ctx context.Context, userID string) ([]purchasesvc.View, error)
	VerifySession(ctx context.Context, userID, sessionID string) (*purchasesvc.Verification, error)
	Debug(ctx context.Context, userID, sessionID string) (*purchasesvc.Diagnostics, error)
}

type downloadService interface {
	Prepare(ctx context.Context, req download.Request) (*download.Download, error)
}

type rateLimiter interface {
	Allow(ctx context.Context, p ratelimit.Policy, client string) (ratelimit.Decision, error)
}

// PublicConfig is the client configuration served by GET /config.
type PublicConfig struct {
	IdentityURL     string
	IdentityAnonKey string
	SiteURL         string
}

// Deps are the collaborators the router needs.
type Deps struct {
	Auth      tokenVerifier
	Checkout  checkoutService
	Purchases purchaseService
	Downloads downloadService
	// Limiter is optional; nil disables rate limiting.
	Limiter ratelimit.Store

	AllowedOrigins []string
	// TrustedProxies lists the proxy addresses or CIDRs whose
	// X-Forwarded-For is believed. Empty trusts none and keys clients by
	// their remote address.
	TrustedProxies []string
	Public         PublicConfig
	// RequestTimeout bounds each request's context up to the response
	// body. Zero means no bound.
	RequestTimeout time.Duration
}

func (d Deps) validate() error {
	switch {
	case d.Auth == nil:
		return errors.New("httpserver: auth verifier is required")
	case d.Checkout == nil:
		return errors.New("httpserver: checkout service is required")
	case d.Purchases == nil:
		return errors.New("httpserver: purchase service is required")
	case d.Downloads == nil:
		return errors.New("httpserver: download service is required")
	}
	return nil
}

type api struct {
	logger    *slog.Logger
	auth      tokenVerifier
	checkout  checkoutService
	purchases purchaseService
	downloads downloadService
	public    PublicConfig
}

// buildRouter wires routes for the API.
func buildRouter(logger *slog.Logger, db Pinger, deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("httpserver: trusted proxies: %w", err)
	}
	router.Use(
		requestIDMiddleware(),
		requestLogger(logger),
		gin.CustomRecovery(recoveryHandler(logger)),
		requestTimeout(deps.RequestTimeout),
	)
	if len(deps.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  deps.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Authorization", "Content-Type"},
			ExposeHeaders: []string{"Content-Disposition", "Retry-After", requestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	a := &api{
		logger:    logger,
		auth:      deps.Auth,
		checkout:  deps.Checkout,
		purchases: deps.Purchases,
		downloads: deps.Downloads,
		public:    deps.Public,
	}

	var limiter rateLimiter
	if deps.Limiter != nil {
		limiter = ratelimit.New(deps.Limiter)
	}
	checkoutLimit := rateLimitMiddleware(limiter, ratelimit.Checkout, logger)
	downloadLimit := rateLimitMiddleware(limiter, ratelimit.Download, logger)
	authed := authMiddleware(deps.Auth, logger)

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db))
	router.GET("/config", a.configHandler)

	router.POST("/webhook", a.webhookHandler)
	router.POST("/checkout", checkoutLimit, authed, a.checkoutHandler)

	router.GET("/download", downloadLimit, authed, a.downloadHandler)
	router.GET("/download-script", downloadLimit, authed, a.legacyDownloadHandler(download.TypeScript))
	router.GET("/download-all-scripts", downloadLimit, authed, a.legacyDownloadHandler(download.TypeAllScripts))
	router.GET("/download-vision-x", downloadLimit, authed, a.legacyDownloadHandler(download.TypeVisionX))
	router.GET("/scripts/*path", scriptsForbiddenHandler)

	router.GET("/purchases", authed, a.purchasesHandler)
	router.POST("/recover-purchase", authed, a.recoverHandler)
	router.GET("/verify-session", authed, a.verifySessionHandler)
	router.GET("/purchase-debug", authed, a.purchaseDebugHandler)

	return router, nil
}

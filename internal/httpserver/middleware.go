package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"cntrlx-store/internal/domain"
	"cntrlx-store/internal/identity"
	"cntrlx-store/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type ctxKey string

const (
	userIDCtxKey    ctxKey = "userID"
	requestIDCtxKey ctxKey = "requestID"
	streamCtxKey    ctxKey = "stream"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDCtxKey, id))
		c.Next()
	}
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("request_id", requestIDFrom(c.Request.Context())),
		)
	}
}

func recoveryHandler(logger *slog.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered",
			"panic", recovered, "path", c.Request.URL.Path, "request_id", requestIDFrom(c.Request.Context()))
		abortWithError(c, logger, errors.New("panic"))
	}
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		parent := c.Request.Context()
		ctx, cancel := context.WithTimeout(context.WithValue(parent, streamCtxKey, parent), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// streamContext returns the request context without the request timeout.
// Response bodies are written under it so a long download is not cut off
// after its headers went out; client disconnects still cancel it.
func streamContext(ctx context.Context) context.Context {
	if parent, ok := ctx.Value(streamCtxKey).(context.Context); ok {
		return parent
	}
	return ctx
}

// authMiddleware requires a valid bearer token and stores the caller's
// user id on the request context.
func authMiddleware(verifier tokenVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := identity.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, logger, domain.AuthRequired("Sign in required"))
			return
		}
		userID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrNotConfigured) {
				abortWithError(c, logger, domain.Configuration("Server configuration error"))
				return
			}
			logger.DebugContext(c.Request.Context(), "token rejected", "err", err)
			abortWithError(c, logger, domain.AuthRequired("Invalid or expired session, please sign in again"))
			return
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), userIDCtxKey, userID))
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	id, _ := c.Request.Context().Value(userIDCtxKey).(string)
	return id
}

// rateLimitMiddleware applies p per client ip. Limiter failures let the
// request through.
func rateLimitMiddleware(limiter rateLimiter, p ratelimit.Policy, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		d, err := limiter.Allow(c.Request.Context(), p, c.ClientIP())
		if err != nil {
			logger.WarnContext(c.Request.Context(), "rate limiter unavailable", "policy", p.Name, "err", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(p.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			abortWithError(c, logger, domain.RateLimited())
			return
		}
		c.Next()
	}
}

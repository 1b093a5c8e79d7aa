package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/media-hub/media-hub/internal/cache"
	"github.com/media-hub/media-hub/internal/fetch"
	"github.com/media-hub/media-hub/internal/logging"
	"github.com/media-hub/media-hub/internal/materialize"
	"github.com/media-hub/media-hub/internal/media"
	"github.com/media-hub/media-hub/internal/memcache"
)

// Resolver 是编排器对 sidecar 暴露的能力。
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (fetch.Result, error)
	Prefetch(ctx context.Context, identifiers []string) fetch.PrefetchReport
	Stats() fetch.Stats
}

// Artifacts 是物化器对 sidecar 暴露的能力。
type Artifacts interface {
	Materialize(data []byte, ext string) (string, error)
	Release(path string) error
	Stats() materialize.Stats
}

// MemoryStats 提供内存层统计。
type MemoryStats interface {
	Stats() memcache.Stats
}

// DiskUsage 提供磁盘层占用。
type DiskUsage interface {
	Usage() cache.Usage
}

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger     *logrus.Logger
	Resolver   Resolver
	Artifacts  Artifacts
	Kinds      *media.Registry
	Memory     MemoryStats
	Disk       DiskUsage
	ListenPort int
	// MaxPrefetch 限制单次 /-/prefetch 的标识符数量，<= 0 时为 256。
	MaxPrefetch int
}

const (
	contextKeyRequestID = "_mediahub_request_id"
	defaultMaxPrefetch  = 256
)

// NewApp builds the sidecar with request-id/access-log middleware and all routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("artifacts are required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.Kinds == nil {
		opts.Kinds = media.NewRegistry()
	}
	if opts.MaxPrefetch <= 0 {
		opts.MaxPrefetch = defaultMaxPrefetch
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &handlers{opts: opts}
	app.Get("/media", h.getMedia)
	app.Get("/media/artifact", h.createArtifact)
	app.Delete("/media/artifact", h.releaseArtifact)
	app.Post("/-/prefetch", h.prefetch)
	app.Get("/-/stats", h.stats)
	app.Get("/-/kinds", h.kinds)

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		entry := logger.WithFields(logging.RequestFields(reqID, c.Method(), c.Path(), status, time.Since(started)))
		entry = entry.WithField("action", "access")
		if status >= fiber.StatusInternalServerError {
			entry.Warn("request_complete")
		} else {
			entry.Info("request_complete")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

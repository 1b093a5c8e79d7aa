package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/media-hub/media-hub/internal/cache"
	"github.com/media-hub/media-hub/internal/cachekey"
	"github.com/media-hub/media-hub/internal/config"
	"github.com/media-hub/media-hub/internal/fetch"
	"github.com/media-hub/media-hub/internal/janitor"
	"github.com/media-hub/media-hub/internal/materialize"
	"github.com/media-hub/media-hub/internal/media"
	"github.com/media-hub/media-hub/internal/memcache"
	"github.com/media-hub/media-hub/internal/server"
	"github.com/media-hub/media-hub/internal/upstream"
)

// components 是进程内共享的一组缓存实例。
type components struct {
	memory       *memcache.Cache
	disk         *cache.FileStore
	orchestrator *fetch.Orchestrator
	artifacts    *materialize.Materializer
	kinds        *media.Registry
}

func buildComponents(cfg *config.Config, logger *logrus.Logger) (*components, error) {
	g := cfg.Global

	deriver, err := cachekey.NewDeriver(cachekey.Encoding(g.KeyEncoding))
	if err != nil {
		return nil, err
	}
	kinds, err := media.NewRegistryFromConfig(cfg.Kinds)
	if err != nil {
		return nil, fmt.Errorf("构建媒体类型表失败: %w", err)
	}

	memory := memcache.New(memcache.Options{
		MaxEntries: g.MemoryMaxEntries,
		MaxBytes:   g.MemoryMaxBytes.Int64(),
	})
	// 磁盘层初始化失败不会中断启动，只会降级为永久未命中。
	disk := cache.NewStore(cache.Options{
		BasePath:    g.StoragePath,
		MaxBytes:    g.DiskMaxBytes.Int64(),
		Compression: cache.Compression(g.DiskCompression),
		Logger:      logger,
	})

	network := upstream.NewFetcher(upstream.NewHTTPClient(cfg), upstream.OptionsFromConfig(g, logger))
	orch, err := fetch.New(fetch.Options{
		Deriver:             deriver,
		Memory:              memory,
		Disk:                disk,
		Network:             network,
		FlightTimeout:       flightTimeout(g),
		PrefetchConcurrency: g.PrefetchConcurrency,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	artifacts, err := materialize.New(materialize.Options{
		Dir:      g.TempDir,
		MaxAge:   g.TempMaxAge.DurationValue(),
		MaxFiles: g.TempMaxFiles,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化临时目录失败: %w", err)
	}

	return &components{
		memory:       memory,
		disk:         disk,
		orchestrator: orch,
		artifacts:    artifacts,
		kinds:        kinds,
	}, nil
}

func (c *components) newApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, error) {
	return server.NewApp(server.AppOptions{
		Logger:     logger,
		Resolver:   c.orchestrator,
		Artifacts:  c.artifacts,
		Kinds:      c.kinds,
		Memory:     c.memory,
		Disk:       c.disk,
		ListenPort: cfg.Global.ListenPort,
	})
}

func (c *components) runJanitor(ctx context.Context, cfg *config.Config, logger *logrus.Logger) {
	janitor.Run(ctx, cfg.Global.SweepInterval.DurationValue(), logger, c.sweepTasks()...)
}

func (c *components) sweepTasks() []janitor.Task {
	return []janitor.Task{
		{
			Name:  "disk",
			Sweep: func(ctx context.Context) int { return c.disk.Sweep(ctx).Removed },
		},
		{
			Name:  "artifacts",
			Sweep: func(ctx context.Context) int { return c.artifacts.Sweep(ctx).Removed },
		},
	}
}

// flightTimeout 覆盖一次取数的全部尝试：每次请求的超时加上逐次翻倍的退避。
func flightTimeout(g config.GlobalConfig) time.Duration {
	attempts := g.MaxRetries + 1
	total := time.Duration(attempts) * g.UpstreamTimeout.DurationValue()
	backoff := g.InitialBackoff.DurationValue()
	for i := 1; i < attempts; i++ {
		total += backoff
		backoff *= 2
	}
	return total
}

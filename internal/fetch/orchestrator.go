package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/media-hub/media-hub/internal/cachekey"
	"github.com/media-hub/media-hub/internal/logging"
)

const defaultFlightTimeout = 2 * time.Minute

// Source 标识一次取数由哪一层提供。
type Source string

const (
	SourceMemory  Source = "memory"
	SourceDisk    Source = "disk"
	SourceNetwork Source = "network"
)

// Network 是网络协作者：按标识符返回完整字节。
type Network interface {
	FetchBytes(ctx context.Context, identifier string) ([]byte, error)
}

// MemoryTier 是内存层契约。
type MemoryTier interface {
	Get(key cachekey.Key) ([]byte, bool)
	Set(key cachekey.Key, data []byte)
}

// DiskTier 是磁盘层契约；实现自行吸收所有 I/O 错误。
type DiskTier interface {
	Get(ctx context.Context, key cachekey.Key) ([]byte, bool)
	Set(ctx context.Context, key cachekey.Key, data []byte)
}

// Options 汇集编排器依赖。Memory、Disk、Network 均为必填。
type Options struct {
	Deriver cachekey.Deriver
	Memory  MemoryTier
	Disk    DiskTier
	Network Network
	// FlightTimeout 约束脱离调用方后的共享取数，<= 0 时使用 2 分钟。
	FlightTimeout time.Duration
	// PrefetchConcurrency 是 Prefetch 的并发上限，<= 0 时为 4。
	PrefetchConcurrency int
	Logger              *logrus.Logger
}

// Result 是一次解析的完整结果。Data 与缓存共享底层数组，调用方不得修改。
type Result struct {
	Data   []byte
	Key    cachekey.Key
	Source Source
}

// Stats 是编排器的累计计数。
type Stats struct {
	MemoryHits     uint64 `json:"memory_hits"`
	DiskHits       uint64 `json:"disk_hits"`
	NetworkFetches uint64 `json:"network_fetches"`
	Coalesced      uint64 `json:"coalesced"`
	Failures       uint64 `json:"failures"`
}

// Orchestrator 按 memory -> disk -> network 顺序解析标识符。
type Orchestrator struct {
	deriver       cachekey.Deriver
	memory        MemoryTier
	disk          DiskTier
	network       Network
	flightTimeout time.Duration
	prefetchLimit int
	logger        *logrus.Logger

	group singleflight.Group

	memoryHits     atomic.Uint64
	diskHits       atomic.Uint64
	networkFetches atomic.Uint64
	coalesced      atomic.Uint64
	failures       atomic.Uint64
}

// New 构建编排器。
func New(opts Options) (*Orchestrator, error) {
	if opts.Memory == nil || opts.Disk == nil || opts.Network == nil {
		return nil, errors.New("fetch: memory, disk and network are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := opts.FlightTimeout
	if timeout <= 0 {
		timeout = defaultFlightTimeout
	}
	limit := opts.PrefetchConcurrency
	if limit <= 0 {
		limit = 4
	}
	return &Orchestrator{
		deriver:       opts.Deriver,
		memory:        opts.Memory,
		disk:          opts.Disk,
		network:       opts.Network,
		flightTimeout: timeout,
		prefetchLimit: limit,
		logger:        logger,
	}, nil
}

// Fetch 返回 identifier 对应的字节。网络失败时返回 *FetchError。
func (o *Orchestrator) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	result, err := o.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// Resolve 与 Fetch 相同，额外返回缓存键与命中层级。
func (o *Orchestrator) Resolve(ctx context.Context, identifier string) (Result, error) {
	key := o.deriver.Derive(identifier)
	if err := ctx.Err(); err != nil {
		return Result{Key: key}, err
	}
	if !cachekey.Encodable(identifier) {
		return o.passthrough(ctx, key, identifier)
	}

	if data, ok := o.memory.Get(key); ok {
		o.memoryHits.Add(1)
		return Result{Data: data, Key: key, Source: SourceMemory}, nil
	}

	owner := false
	flightCtx := context.WithoutCancel(ctx)
	ch := o.group.DoChan(key.String(), func() (interface{}, error) {
		owner = true
		return o.load(flightCtx, key, identifier)
	})

	select {
	case res := <-ch:
		if !owner {
			o.coalesced.Add(1)
		}
		if res.Err != nil {
			return Result{Key: key}, res.Err
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		return Result{Key: key}, ctx.Err()
	}
}

// load 在单次 flight 内完成 disk 查找与网络回源。
func (o *Orchestrator) load(parent context.Context, key cachekey.Key, identifier string) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, o.flightTimeout)
	defer cancel()
	started := time.Now()

	if data, ok := o.memory.Get(key); ok {
		o.memoryHits.Add(1)
		return Result{Data: data, Key: key, Source: SourceMemory}, nil
	}

	if data, ok := o.disk.Get(ctx, key); ok {
		o.diskHits.Add(1)
		o.memory.Set(key, data)
		o.logger.WithFields(logging.FetchFields(key.String(), string(SourceDisk), len(data), time.Since(started))).
			Debug("fetch_complete")
		return Result{Data: data, Key: key, Source: SourceDisk}, nil
	}

	data, err := o.network.FetchBytes(ctx, identifier)
	if err != nil {
		return Result{}, o.failed(key, identifier, started, err)
	}

	o.networkFetches.Add(1)
	o.memory.Set(key, data)
	o.disk.Set(ctx, key, data)
	o.logger.WithFields(logging.FetchFields(key.String(), string(SourceNetwork), len(data), time.Since(started))).
		Info("fetch_complete")
	return Result{Data: data, Key: key, Source: SourceNetwork}, nil
}

// passthrough 直接回源，不读写任何缓存层：随机 Key 不会再次被派生，写入只会留下死条目。
func (o *Orchestrator) passthrough(ctx context.Context, key cachekey.Key, identifier string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.flightTimeout)
	defer cancel()
	started := time.Now()

	data, err := o.network.FetchBytes(ctx, identifier)
	if err != nil {
		return Result{Key: key}, o.failed(key, identifier, started, err)
	}
	o.networkFetches.Add(1)
	o.logger.WithFields(logging.FetchFields(key.String(), string(SourceNetwork), len(data), time.Since(started))).
		WithField("cacheable", false).
		Info("fetch_complete")
	return Result{Data: data, Key: key, Source: SourceNetwork}, nil
}

func (o *Orchestrator) failed(key cachekey.Key, identifier string, started time.Time, err error) error {
	o.failures.Add(1)
	o.logger.WithFields(logrus.Fields{
		"action":     "fetch",
		"key":        key.String(),
		"identifier": identifier,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).WithError(err).Warn("fetch_failed")
	return &FetchError{Identifier: identifier, Key: key, Err: err}
}

// Stats 返回计数快照。
func (o *Orchestrator) Stats() Stats {
	return Stats{
		MemoryHits:     o.memoryHits.Load(),
		DiskHits:       o.diskHits.Load(),
		NetworkFetches: o.networkFetches.Load(),
		Coalesced:      o.coalesced.Load(),
		Failures:       o.failures.Load(),
	}
}

// Key 返回 identifier 对应的缓存键。
func (o *Orchestrator) Key(identifier string) cachekey.Key {
	return o.deriver.Derive(identifier)
}

package cache

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/media-hub/media-hub/internal/cachekey"
)

// Store 是磁盘层对外契约：Get 只区分命中与未命中，Set 永不向调用方报错。
type Store interface {
	// Get 读取 key 对应的正文；文件缺失、不可读或损坏都视为未命中。
	Get(ctx context.Context, key cachekey.Key) ([]byte, bool)

	// Set 以临时文件 + rename 的方式覆盖写入；失败只记录日志。
	Set(ctx context.Context, key cachekey.Key, data []byte)

	// Remove 删除 key 对应的文件，不存在时返回 nil。
	Remove(ctx context.Context, key cachekey.Key) error
}

// Compression 描述磁盘上的存储编码。
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Options 控制磁盘层的目录、容量与编码。
type Options struct {
	// BasePath 是缓存目录，不存在时会连同父目录一起创建。
	BasePath string
	// MaxBytes <= 0 表示不限容量（与原始行为一致，不做任何淘汰）。
	MaxBytes int64
	// Compression 为 zstd 时，仅在压缩后更小的情况下以 <name>.zst 落盘。
	Compression Compression
	Logger      *logrus.Logger
}

// Usage 描述目录当前的文件数与占用。
type Usage struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// SweepResult 汇总一次容量清理的结果。
type SweepResult struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
	Usage      Usage `json:"usage"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrStoreUnavailable 表示缓存目录初始化失败，磁盘层已降级为永久未命中。
	ErrStoreUnavailable = errors.New("cache store unavailable")
	// ErrCorrupt 表示落盘内容无法解码。
	ErrCorrupt = errors.New("cache entry corrupt")
)

package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/media-hub/media-hub/internal/cachekey"
)

const (
	tempPrefix = ".cache-"
	zstdSuffix = ".zst"
)

// FileStore 是 Store 的文件系统实现。写入、删除与清理共用同一把实例锁串行执行；
// 读取不加锁，依赖 rename 的原子性保证读到的总是完整文件。
type FileStore struct {
	basePath string
	maxBytes int64
	compress bool
	codec    *codec
	logger   *logrus.Logger
	initErr  error
	now      func() time.Time

	mu    sync.Mutex
	usage int64
}

var _ Store = (*FileStore)(nil)

// NewStore 以 basePath 为根目录构建磁盘层，整个进程复用一份实例。目录创建失败不会
// 返回错误，而是得到一个降级实例：所有 Get 未命中、所有 Set 空操作，可通过 Err 查询原因。
func NewStore(opts Options) *FileStore {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &FileStore{
		maxBytes: opts.MaxBytes,
		compress: opts.Compression == CompressionZstd,
		logger:   logger,
		now:      time.Now,
	}

	if err := s.init(opts.BasePath); err != nil {
		s.initErr = err
		logger.WithFields(logrus.Fields{
			"action": "disk_init",
			"path":   opts.BasePath,
		}).WithError(err).Warn("disk_cache_disabled")
		return s
	}

	removed := s.removeLeftovers()
	usage, _ := s.scan()
	s.usage = usage.Bytes
	logger.WithFields(logrus.Fields{
		"action":      "disk_init",
		"path":        s.basePath,
		"files":       usage.Files,
		"usage":       humanize.IBytes(uint64(usage.Bytes)),
		"max_bytes":   s.maxBytes,
		"compression": string(opts.Compression),
		"leftovers":   removed,
	}).Info("disk_cache_ready")
	return s
}

func (s *FileStore) init(basePath string) error {
	if basePath == "" {
		return errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create storage path: %w", err)
	}
	c, err := newCodec()
	if err != nil {
		return err
	}
	s.basePath = abs
	s.codec = c
	return nil
}

// Err 返回初始化错误；nil 表示磁盘层可用。
func (s *FileStore) Err() error {
	return s.initErr
}

// Dir 返回缓存目录的绝对路径。
func (s *FileStore) Dir() string {
	return s.basePath
}

func (s *FileStore) Get(ctx context.Context, key cachekey.Key) ([]byte, bool) {
	data, err := s.load(ctx, key)
	if err == nil {
		return data, true
	}
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrStoreUnavailable) {
		s.logger.WithFields(logrus.Fields{
			"action": "disk_get",
			"key":    key.String(),
		}).WithError(err).Warn("disk_read_failed")
	}
	return nil, false
}

func (s *FileStore) Set(ctx context.Context, key cachekey.Key, data []byte) {
	if err := s.store(ctx, key, data); err != nil && !errors.Is(err, ErrStoreUnavailable) {
		s.logger.WithFields(logrus.Fields{
			"action": "disk_set",
			"key":    key.String(),
			"size":   len(data),
		}).WithError(err).Warn("disk_write_failed")
	}
}

func (s *FileStore) Remove(ctx context.Context, key cachekey.Key) error {
	if s.initErr != nil {
		return ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.entryPath(key)
	for _, p := range []string{base, base + zstdSuffix} {
		if err := s.removeFile(p); err != nil {
			return err
		}
	}
	return nil
}

// Usage 扫描目录并返回当前占用。
func (s *FileStore) Usage() Usage {
	if s.initErr != nil {
		return Usage{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, _ := s.scan()
	return usage
}

// Sweep 在设置了容量上限时，按 mtime 从旧到新删除文件，直到占用不超过上限的 90%。
func (s *FileStore) Sweep(ctx context.Context) SweepResult {
	if s.initErr != nil {
		return SweepResult{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(ctx)
}

func (s *FileStore) load(ctx context.Context, key cachekey.Key) ([]byte, error) {
	if s.initErr != nil {
		return nil, ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := s.entryPath(key)
	raw, info, err := readEntry(base + zstdSuffix)
	switch {
	case err == nil:
		data, decodeErr := s.codec.decode(raw)
		if decodeErr != nil {
			s.dropCorrupt(base+zstdSuffix, info)
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, decodeErr)
		}
		s.touch(base + zstdSuffix)
		return data, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	data, _, err := readEntry(base)
	if err != nil {
		return nil, err
	}
	s.touch(base)
	return data, nil
}

func (s *FileStore) store(ctx context.Context, key cachekey.Key, data []byte) error {
	if s.initErr != nil {
		return ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	base := s.entryPath(key)
	payload, target, stale := data, base, base+zstdSuffix
	if s.compress {
		if encoded := s.codec.encode(data); len(encoded) < len(data) {
			payload, target, stale = encoded, base+zstdSuffix, base
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 && int64(len(payload)) > s.sweepTarget() {
		// 大于清理目标的条目不落盘，同 key 的旧文件一并移除。
		for _, p := range []string{target, stale} {
			_ = s.removeFile(p)
		}
		s.logger.WithFields(logrus.Fields{
			"action":    "disk_set",
			"key":       key.String(),
			"size":      len(payload),
			"max_bytes": s.maxBytes,
		}).Debug("disk_entry_too_large")
		return nil
	}

	var previous int64
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		previous = info.Size()
	}
	if err := writeAtomic(target, payload); err != nil {
		return err
	}
	if err := s.removeFile(stale); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": "disk_set",
			"path":   stale,
		}).WithError(err).Debug("disk_stale_remove_failed")
	}

	s.usage += int64(len(payload)) - previous
	if s.usage < 0 {
		s.usage = 0
	}
	if s.maxBytes > 0 && s.usage > s.maxBytes {
		s.sweepLocked(ctx)
	}
	return nil
}

// sweepLocked must be called with mu held.
func (s *FileStore) sweepLocked(ctx context.Context) SweepResult {
	files, err := s.list()
	if err != nil {
		s.logger.WithFields(logrus.Fields{"action": "disk_sweep"}).WithError(err).Warn("disk_scan_failed")
		return SweepResult{}
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	result := SweepResult{}
	if s.maxBytes > 0 && total > s.maxBytes {
		sort.Slice(files, func(i, j int) bool {
			return files[i].modTime.Before(files[j].modTime)
		})
		target := s.sweepTarget()
		for _, f := range files {
			if total <= target || ctx.Err() != nil {
				break
			}
			if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				continue
			}
			total -= f.size
			result.Removed++
			result.FreedBytes += f.size
		}
	}

	s.usage = total
	result.Usage = Usage{Files: len(files) - result.Removed, Bytes: total}
	if result.Removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"action":  "disk_sweep",
			"removed": result.Removed,
			"freed":   humanize.IBytes(uint64(result.FreedBytes)),
			"usage":   humanize.IBytes(uint64(total)),
		}).Info("disk_sweep_complete")
	}
	return result
}

// sweepTarget 是清理后允许保留的字节数，上限的 90%。
func (s *FileStore) sweepTarget() int64 {
	return s.maxBytes * 90 / 100
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

func (s *FileStore) list() ([]fileInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(s.basePath, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

func (s *FileStore) scan() (Usage, error) {
	files, err := s.list()
	if err != nil {
		return Usage{}, err
	}
	usage := Usage{Files: len(files)}
	for _, f := range files {
		usage.Bytes += f.size
	}
	return usage, nil
}

// removeLeftovers 清理上次进程异常退出时遗留的临时文件。
func (s *FileStore) removeLeftovers() int {
	matches, err := filepath.Glob(filepath.Join(s.basePath, tempPrefix+"*"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, m := range matches {
		if os.Remove(m) == nil {
			removed++
		}
	}
	return removed
}

// touch 仅在启用容量上限时刷新 mtime，使清理顺序接近 LRU。
func (s *FileStore) touch(path string) {
	if s.maxBytes <= 0 {
		return
	}
	now := s.now()
	_ = os.Chtimes(path, now, now)
}

// dropCorrupt 删除读到的损坏文件。若该路径已被写入方替换成新文件则保留。
func (s *FileStore) dropCorrupt(path string, read os.FileInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := os.Stat(path)
	if err != nil || !os.SameFile(current, read) {
		return
	}
	_ = s.removeFile(path)
}

// removeFile must be called with mu held.
func (s *FileStore) removeFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.usage -= info.Size()
	if s.usage < 0 {
		s.usage = 0
	}
	return nil
}

func (s *FileStore) entryPath(key cachekey.Key) string {
	return filepath.Join(s.basePath, key.FileName())
}

// readEntry 读取文件内容，同时返回读取时所用文件的元信息。
func readEntry(path string) ([]byte, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, ErrNotFound
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

func writeAtomic(filePath string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), tempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// Package materialize 把内存中的媒体字节写成临时文件，供只接受文件路径的播放器使用。
// 每个产物都会被登记，可单独释放、按存活时间清理或在关闭时统一删除。
package materialize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultExt 是未知扩展名时使用的后缀。
const DefaultExt = ".mp4"

// ErrUnknownArtifact 表示路径不是本实例生成的产物。
var ErrUnknownArtifact = errors.New("unknown artifact")

// Options 控制产物目录与清理策略。
type Options struct {
	Dir string
	// MaxAge <= 0 时 Sweep 不按时间清理。
	MaxAge time.Duration
	// MaxFiles <= 0 表示不限数量；超出时删除最旧的产物。
	MaxFiles int
	Logger   *logrus.Logger
}

// Artifact 描述一个已物化的文件。
type Artifact struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// Stats 是当前登记产物的汇总。
type Stats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// SweepResult 汇总一次清理。
type SweepResult struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
}

// Materializer 生成并登记临时文件。
type Materializer struct {
	dir      string
	maxAge   time.Duration
	maxFiles int
	logger   *logrus.Logger
	now      func() time.Time

	mu        sync.Mutex
	artifacts map[string]Artifact
}

// New 创建产物目录，并接管目录中上次运行遗留的产物，使其同样受 MaxAge 约束。
func New(opts Options) (*Materializer, error) {
	if opts.Dir == "" {
		return nil, errors.New("materialize: directory required")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &Materializer{
		dir:       dir,
		maxAge:    opts.MaxAge,
		maxFiles:  opts.MaxFiles,
		logger:    logger,
		now:       time.Now,
		artifacts: make(map[string]Artifact),
	}
	m.adoptLeftovers()
	return m, nil
}

// Dir 返回产物目录。
func (m *Materializer) Dir() string {
	return m.dir
}

// Materialize 以 uuid+ext 命名写入 data 并返回绝对路径；ext 为空时使用 .mp4。
// 写入失败时删除残留文件并返回错误。
func (m *Materializer) Materialize(data []byte, ext string) (string, error) {
	path := filepath.Join(m.dir, uuid.NewString()+normalizeExt(ext))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	_, err = file.Write(data)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}

	m.mu.Lock()
	m.artifacts[path] = Artifact{Path: path, Size: int64(len(data)), Created: m.now()}
	evicted := m.enforceCapLocked(path)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"action":  "materialize",
		"path":    path,
		"size":    len(data),
		"evicted": evicted,
	}).Debug("artifact_created")
	return path, nil
}

// Release 删除一个由本实例生成的产物。
func (m *Materializer) Release(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.artifacts[path]; !ok {
		return ErrUnknownArtifact
	}
	delete(m.artifacts, path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep 删除存活超过 MaxAge 的产物。
func (m *Materializer) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	if m.maxAge <= 0 {
		return result
	}
	cutoff := m.now().Add(-m.maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	for path, artifact := range m.artifacts {
		if ctx.Err() != nil {
			break
		}
		if artifact.Created.After(cutoff) {
			continue
		}
		if m.removeLocked(path) {
			result.Removed++
			result.FreedBytes += artifact.Size
		}
	}
	if result.Removed > 0 {
		m.logger.WithFields(logrus.Fields{
			"action":  "artifact_sweep",
			"removed": result.Removed,
			"freed":   result.FreedBytes,
		}).Info("artifact_sweep_complete")
	}
	return result
}

// Artifacts 返回按创建时间排序的产物列表。
func (m *Materializer) Artifacts() []Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]Artifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		list = append(list, a)
	}
	sortByCreated(list)
	return list
}

// Stats 返回当前登记产物的数量与总大小。
func (m *Materializer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats Stats
	for _, a := range m.artifacts {
		stats.Files++
		stats.Bytes += a.Size
	}
	return stats
}

// Close 删除所有登记的产物。
func (m *Materializer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for path := range m.artifacts {
		delete(m.artifacts, path)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enforceCapLocked 在超过 MaxFiles 时删除最旧的产物，keep 永远保留。
func (m *Materializer) enforceCapLocked(keep string) int {
	if m.maxFiles <= 0 || len(m.artifacts) <= m.maxFiles {
		return 0
	}
	list := make([]Artifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		if a.Path != keep {
			list = append(list, a)
		}
	}
	sortByCreated(list)

	evicted := 0
	for _, a := range list {
		if len(m.artifacts) <= m.maxFiles {
			break
		}
		if m.removeLocked(a.Path) {
			evicted++
		}
	}
	return evicted
}

func (m *Materializer) removeLocked(path string) bool {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.WithFields(logrus.Fields{
			"action": "artifact_remove",
			"path":   path,
		}).WithError(err).Warn("artifact_remove_failed")
		return false
	}
	delete(m.artifacts, path)
	return true
}

func (m *Materializer) adoptLeftovers() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, err := uuid.Parse(strings.TrimSuffix(name, filepath.Ext(name))); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(m.dir, name)
		m.artifacts[path] = Artifact{Path: path, Size: info.Size(), Created: info.ModTime()}
	}
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" || ext == "." || strings.ContainsAny(ext, `/\`) {
		return DefaultExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func sortByCreated(list []Artifact) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Created.Equal(list[j].Created) {
			return list[i].Path < list[j].Path
		}
		return list[i].Created.Before(list[j].Created)
	})
}

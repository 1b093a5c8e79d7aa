package media

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/media-hub/media-hub/internal/config"
)

const (
	KindImage = "image"
	KindVideo = "video"
	KindOther = "other"
)

// Kind 描述一类媒体。
type Kind struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions,omitempty"`
	// ArtifactExt 是标识符没有可用扩展名时物化文件使用的后缀。
	ArtifactExt string `json:"artifact_ext"`
	// Streaming 表示消费方需要文件路径（播放器），应当物化后再交付。
	Streaming bool `json:"streaming"`
}

func builtinKinds() []Kind {
	return []Kind{
		{
			Name:        KindImage,
			Extensions:  []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".bmp", ".avif"},
			ArtifactExt: ".jpg",
		},
		{
			Name:        KindVideo,
			Extensions:  []string{".mp4", ".mov", ".m4v", ".webm", ".mkv", ".avi"},
			ArtifactExt: ".mp4",
			Streaming:   true,
		},
		{
			Name:        KindOther,
			ArtifactExt: ".mp4",
		},
	}
}

// Registry 是并发安全的媒体类型表。
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
	byExt map[string]string
}

// NewRegistry 返回预置 image/video/other 的注册表。
func NewRegistry() *Registry {
	r := &Registry{
		kinds: make(map[string]Kind),
		byExt: make(map[string]string),
	}
	for _, kind := range builtinKinds() {
		r.mustRegister(kind)
	}
	return r
}

// NewRegistryFromConfig 在内置类型之上应用配置中的 [[Kind]] 段。
func NewRegistryFromConfig(kinds []config.KindConfig) (*Registry, error) {
	r := NewRegistry()
	for _, kc := range kinds {
		if err := r.apply(kc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 加入新类型，名称或扩展名重复会返回错误。
func (r *Registry) Register(kind Kind) error {
	name := normalizeName(kind.Name)
	if name == "" {
		return fmt.Errorf("media kind name is required")
	}
	kind.Name = name
	kind.Extensions = normalizeExts(kind.Extensions)
	if kind.ArtifactExt != "" {
		kind.ArtifactExt = normalizeExt(kind.ArtifactExt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[name]; exists {
		return fmt.Errorf("media kind %s already registered", name)
	}
	for _, ext := range kind.Extensions {
		if owner, claimed := r.byExt[ext]; claimed {
			return fmt.Errorf("extension %s already claimed by %s", ext, owner)
		}
	}
	r.kinds[name] = kind
	for _, ext := range kind.Extensions {
		r.byExt[ext] = name
	}
	return nil
}

func (r *Registry) mustRegister(kind Kind) {
	if err := r.Register(kind); err != nil {
		panic(err)
	}
}

// apply 合并一条配置：已存在的类型追加扩展名，扩展名会从原归属类型迁出。
func (r *Registry) apply(kc config.KindConfig) error {
	name := normalizeName(kc.Name)
	if name == "" {
		return fmt.Errorf("media kind name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kind, exists := r.kinds[name]
	if !exists {
		kind = Kind{Name: name, ArtifactExt: ".mp4"}
	}
	if kc.ArtifactExt != "" {
		kind.ArtifactExt = normalizeExt(kc.ArtifactExt)
	}
	if kc.Streaming != nil {
		kind.Streaming = *kc.Streaming
	}
	for _, ext := range normalizeExts(kc.Extensions) {
		if owner, claimed := r.byExt[ext]; claimed && owner != name {
			prev := r.kinds[owner]
			prev.Extensions = without(prev.Extensions, ext)
			r.kinds[owner] = prev
		}
		if r.byExt[ext] != name {
			kind.Extensions = append(kind.Extensions, ext)
		}
		r.byExt[ext] = name
	}
	r.kinds[name] = kind
	return nil
}

// Resolve 按名称查找类型。
func (r *Registry) Resolve(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.kinds[normalizeName(name)]
	return kind, ok
}

// List 返回按名称排序的类型列表。
func (r *Registry) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]Kind, 0, len(names))
	for _, name := range names {
		result = append(result, r.kinds[name])
	}
	return result
}

// Names 返回所有类型名。
func (r *Registry) Names() []string {
	items := r.List()
	result := make([]string, len(items))
	for i, kind := range items {
		result[i] = kind.Name
	}
	return result
}

// Classify 依据标识符路径部分的扩展名判定类型，无法识别时返回 other。
func (r *Registry) Classify(identifier string) Kind {
	ext := Ext(identifier)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.byExt[ext]; ok && ext != "" {
		return r.kinds[name]
	}
	return r.kinds[KindOther]
}

// ArtifactExt 返回物化 identifier 时使用的扩展名：已识别类型沿用标识符自身的扩展名，
// 否则使用类型默认值。
func (r *Registry) ArtifactExt(identifier string) string {
	kind := r.Classify(identifier)
	if kind.Name != KindOther {
		if ext := Ext(identifier); ext != "" {
			return ext
		}
	}
	return kind.ArtifactExt
}

// Ext 返回标识符路径部分的小写扩展名，忽略 query 与 fragment。
func Ext(identifier string) string {
	p := identifier
	if parsed, err := url.Parse(identifier); err == nil {
		p = parsed.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.ToLower(path.Ext(p))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = normalizeExt(ext)
		if ext == "" {
			continue
		}
		if _, dup := seen[ext]; dup {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func without(list []string, item string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}

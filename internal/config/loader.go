package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

const appName = "media-hub"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。path 为空时只使用内置默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Kinds {
		applyKindDefaults(&cfg.Kinds[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	absTemp, err := filepath.Abs(cfg.Global.TempDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析临时目录: %w", err)
	}
	cfg.Global.TempDir = absTemp

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", DefaultStoragePath())
	v.SetDefault("KeyEncoding", "base64")
	v.SetDefault("MemoryMaxEntries", 100)
	v.SetDefault("MemoryMaxBytes", "64MiB")
	v.SetDefault("DiskMaxBytes", 0)
	v.SetDefault("DiskCompression", "none")
	v.SetDefault("TempDir", DefaultTempDir())
	v.SetDefault("TempMaxAge", "1h")
	v.SetDefault("TempMaxFiles", 32)
	v.SetDefault("SweepInterval", "5m")
	v.SetDefault("MaxPayloadSize", "512MiB")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("PrefetchConcurrency", 4)
}

// DefaultStoragePath 返回用户缓存目录下的 media-hub/DiskCache，无法定位时退回 ./storage/DiskCache。
func DefaultStoragePath() string {
	scope := gap.NewScope(gap.User, appName)
	dir, err := scope.CacheDir()
	if err != nil || dir == "" {
		return filepath.Join(".", "storage", "DiskCache")
	}
	return filepath.Join(dir, "DiskCache")
}

// DefaultTempDir 返回物化文件的默认目录。
func DefaultTempDir() string {
	return filepath.Join(os.TempDir(), appName)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.KeyEncoding = strings.ToLower(strings.TrimSpace(g.KeyEncoding))
	if g.KeyEncoding == "" {
		g.KeyEncoding = "base64"
	}
	g.DiskCompression = strings.ToLower(strings.TrimSpace(g.DiskCompression))
	if g.DiskCompression == "" {
		g.DiskCompression = "none"
	}
	if g.TempDir == "" {
		g.TempDir = DefaultTempDir()
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.PrefetchConcurrency == 0 {
		g.PrefetchConcurrency = 4
	}
}

func applyKindDefaults(k *KindConfig) {
	k.Name = strings.ToLower(strings.TrimSpace(k.Name))
	for i, ext := range k.Extensions {
		k.Extensions[i] = normalizeExt(ext)
	}
	if k.ArtifactExt != "" {
		k.ArtifactExt = normalizeExt(k.ArtifactExt)
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := parseByteSize(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析 ByteSize 字段: %s", v)
			}
			return parsed, nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 ByteSize 类型: %T", v)
		}
	}
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 表示字节数，支持 "64MB"、"1GiB" 或纯数字写法。
type ByteSize int64

// UnmarshalText 通过 humanize.ParseBytes 解析带单位的字节数。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		return ByteSize(intVal), nil
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(parsed), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述缓存、上游与日志等进程级参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	StoragePath      string   `mapstructure:"StoragePath"`
	KeyEncoding      string   `mapstructure:"KeyEncoding"`
	MemoryMaxEntries int      `mapstructure:"MemoryMaxEntries"`
	MemoryMaxBytes   ByteSize `mapstructure:"MemoryMaxBytes"`
	DiskMaxBytes     ByteSize `mapstructure:"DiskMaxBytes"`
	DiskCompression  string   `mapstructure:"DiskCompression"`

	TempDir       string   `mapstructure:"TempDir"`
	TempMaxAge    Duration `mapstructure:"TempMaxAge"`
	TempMaxFiles  int      `mapstructure:"TempMaxFiles"`
	SweepInterval Duration `mapstructure:"SweepInterval"`

	MaxPayloadSize      ByteSize `mapstructure:"MaxPayloadSize"`
	MaxRetries          int      `mapstructure:"MaxRetries"`
	InitialBackoff      Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	PrefetchConcurrency int      `mapstructure:"PrefetchConcurrency"`
}

// KindConfig 允许为媒体类型追加扩展名或覆盖物化时使用的扩展名。
type KindConfig struct {
	Name        string   `mapstructure:"Name"`
	Extensions  []string `mapstructure:"Extensions"`
	ArtifactExt string   `mapstructure:"ArtifactExt"`
	Streaming   *bool    `mapstructure:"Streaming"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Kinds  []KindConfig `mapstructure:"Kind"`
}

// KindNames 返回配置中出现的媒体类型名，供日志字段使用。
func KindNames(kinds []KindConfig) []string {
	if len(kinds) == 0 {
		return nil
	}
	result := make([]string, len(kinds))
	for i, kind := range kinds {
		result[i] = kind.Name
	}
	return result
}

package config

import (
	"errors"
	"fmt"
	"strings"
)

var supportedKeyEncodings = map[string]struct{}{
	"base64": {},
	"sha256": {},
}

var supportedDiskCompressions = map[string]struct{}{
	"none": {},
	"zstd": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedKeyEncodings[g.KeyEncoding]; !ok {
		return newFieldError("Global.KeyEncoding", "仅支持 base64/sha256")
	}
	if g.MemoryMaxEntries <= 0 {
		return newFieldError("Global.MemoryMaxEntries", "必须大于 0")
	}
	if g.MemoryMaxBytes <= 0 {
		return newFieldError("Global.MemoryMaxBytes", "必须大于 0")
	}
	if g.DiskMaxBytes < 0 {
		return newFieldError("Global.DiskMaxBytes", "不能为负数")
	}
	if _, ok := supportedDiskCompressions[g.DiskCompression]; !ok {
		return newFieldError("Global.DiskCompression", "仅支持 none/zstd")
	}
	if g.TempDir == "" {
		return newFieldError("Global.TempDir", "不能为空")
	}
	if g.TempMaxAge.DurationValue() <= 0 {
		return newFieldError("Global.TempMaxAge", "必须大于 0")
	}
	if g.TempMaxFiles < 0 {
		return newFieldError("Global.TempMaxFiles", "不能为负数")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("Global.SweepInterval", "必须大于 0")
	}
	if g.MaxPayloadSize <= 0 {
		return newFieldError("Global.MaxPayloadSize", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.PrefetchConcurrency <= 0 {
		return newFieldError("Global.PrefetchConcurrency", "必须大于 0")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Kinds {
		kind := &c.Kinds[i]
		if kind.Name == "" {
			return newFieldError("Kind[].Name", "不能为空")
		}
		if _, exists := seenNames[kind.Name]; exists {
			return newFieldError(kindField(kind.Name, "Name"), "重复")
		}
		seenNames[kind.Name] = struct{}{}

		for _, ext := range kind.Extensions {
			if err := validateExt(ext); err != nil {
				return fmt.Errorf("%s: %w", kindField(kind.Name, "Extensions"), err)
			}
		}
		if kind.ArtifactExt != "" {
			if err := validateExt(kind.ArtifactExt); err != nil {
				return fmt.Errorf("%s: %w", kindField(kind.Name, "ArtifactExt"), err)
			}
		}
	}

	return nil
}

func validateExt(ext string) error {
	if ext == "" || ext == "." {
		return errors.New("扩展名不能为空")
	}
	if strings.ContainsAny(ext[1:], `./\ `) {
		return fmt.Errorf("扩展名不合法: %s", ext)
	}
	return nil
}

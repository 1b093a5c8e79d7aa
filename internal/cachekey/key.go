// Package cachekey 负责把外部资源标识（通常是 URL）映射为稳定的缓存键，
// 并提供磁盘层可直接使用的安全文件名。
package cachekey

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Key 是由资源标识派生的缓存键，同一标识总是得到同一个 Key。
type Key string

// Encoding 描述标识到 Key 的编码方式。
type Encoding string

const (
	// EncodingBase64 对原始标识做标准 base64 编码，可逆，长度随标识增长。
	EncodingBase64 Encoding = "base64"
	// EncodingSHA256 取标识的 sha256 十六进制摘要，定长且文件名安全。
	EncodingSHA256 Encoding = "sha256"
)

// maxFileNameLen 留出余量，避免超过常见文件系统 255 字节的文件名上限。
const maxFileNameLen = 200

var fileNameReplacer = strings.NewReplacer("+", "-", "/", "_")

// Deriver 按选定的 Encoding 派生 Key，零值等价于 base64。
type Deriver struct {
	encoding Encoding
}

// NewDeriver 校验编码名称并返回对应的 Deriver。
func NewDeriver(encoding Encoding) (Deriver, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(string(encoding)))) {
	case "", EncodingBase64:
		return Deriver{encoding: EncodingBase64}, nil
	case EncodingSHA256:
		return Deriver{encoding: EncodingSHA256}, nil
	default:
		return Deriver{}, fmt.Errorf("unsupported key encoding: %s", encoding)
	}
}

// Encoding 返回当前生效的编码方式。
func (d Deriver) Encoding() Encoding {
	if d.encoding == "" {
		return EncodingBase64
	}
	return d.encoding
}

// Derive 计算标识对应的 Key。无法编码的标识（空串、非法 UTF-8）会得到随机 Key，
// 这意味着该标识永远不会命中缓存，但调用流程不会因此失败。
func (d Deriver) Derive(identifier string) Key {
	if !Encodable(identifier) {
		return Key(uuid.NewString())
	}
	switch d.Encoding() {
	case EncodingSHA256:
		sum := sha256.Sum256([]byte(identifier))
		return Key(hex.EncodeToString(sum[:]))
	default:
		return Key(base64.StdEncoding.EncodeToString([]byte(identifier)))
	}
}

// Derive 使用默认的 base64 编码派生 Key。
func Derive(identifier string) Key {
	return Deriver{}.Derive(identifier)
}

// Encodable 报告标识能否被确定性地编码。
func Encodable(identifier string) bool {
	return identifier != "" && utf8.ValidString(identifier)
}

// String 实现 fmt.Stringer。
func (k Key) String() string {
	return string(k)
}

// FileName 返回可直接用作文件名的形式：base64 的 "+" "/" 换成 URL 安全字符；
// 过长的名字替换为 "h-" + sha256，长度 66 不是 4 的倍数，不会与补齐后的 base64 冲突。
func (k Key) FileName() string {
	name := fileNameReplacer.Replace(string(k))
	if len(name) <= maxFileNameLen {
		return name
	}
	sum := sha256.Sum256([]byte(k))
	return "h-" + hex.EncodeToString(sum[:])
}

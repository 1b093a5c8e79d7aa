package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedScheme 表示标识符不是 http/https 地址。
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
	// ErrPayloadTooLarge 表示响应体超过 MaxPayloadSize。
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
)

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

// Temporary 报告该状态是否值得重试：429 与 5xx。
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

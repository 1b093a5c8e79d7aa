package upstream

import (
	"net"
	"net/http"
	"time"

	"github.com/media-hub/media-hub/internal/config"
)

const defaultTimeout = 30 * time.Second

// 共享 Transport：复用长连接并集中配置拨号与 TLS 超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          64,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回所有取数共享的 http.Client，单次请求耗时受 UpstreamTimeout 约束。
func NewHTTPClient(cfg *config.Config) *http.Client {
	timeout := defaultTimeout
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

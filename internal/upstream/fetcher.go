package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/media-hub/media-hub/internal/config"
	"github.com/media-hub/media-hub/internal/version"
)

const maxBackoff = 30 * time.Second

// Options 控制单个标识符的下载行为。
type Options struct {
	// MaxPayloadSize <= 0 表示不限制响应体大小。
	MaxPayloadSize int64
	// MaxRetries 是首轮请求之外的重试次数。
	MaxRetries     int
	InitialBackoff time.Duration
	UserAgent      string
	Logger         *logrus.Logger
}

// OptionsFromConfig 从全局配置映射出 Fetcher 参数。
func OptionsFromConfig(g config.GlobalConfig, logger *logrus.Logger) Options {
	return Options{
		MaxPayloadSize: g.MaxPayloadSize.Int64(),
		MaxRetries:     g.MaxRetries,
		InitialBackoff: g.InitialBackoff.DurationValue(),
		UserAgent:      version.UserAgent(),
		Logger:         logger,
	}
}

// Fetcher 按标识符（http/https URL）下载完整字节。重试只发生在这里，编排层不会重试。
type Fetcher struct {
	client *http.Client
	opts   Options
	logger *logrus.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewFetcher 使用共享 client 构建 Fetcher。
func NewFetcher(client *http.Client, opts Options) *Fetcher {
	if client == nil {
		client = NewHTTPClient(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}
	return &Fetcher{
		client: client,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
	}
}

// FetchBytes 下载 identifier 指向的完整内容。传输错误、429 与 5xx 会按指数退避重试。
func (f *Fetcher) FetchBytes(ctx context.Context, identifier string) ([]byte, error) {
	target, err := parseSource(identifier)
	if err != nil {
		return nil, err
	}

	attempts := f.opts.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		data, err := f.fetchOnce(ctx, target)
		if err == nil {
			return data, nil
		}
		if attempt >= attempts || !retryable(ctx, err) {
			return nil, err
		}

		wait := f.backoff(attempt)
		f.logger.WithFields(logrus.Fields{
			"action":  "upstream_retry",
			"url":     target,
			"attempt": attempt,
			"max":     attempts,
			"wait_ms": wait.Milliseconds(),
		}).WithError(err).Warn("upstream_retry")
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}

	limit := f.opts.MaxPayloadSize
	if limit > 0 && resp.ContentLength > limit {
		return nil, ErrPayloadTooLarge
	}

	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, ErrPayloadTooLarge
	}
	return data, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	wait := f.opts.InitialBackoff << (attempt - 1)
	if wait <= 0 || wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

func parseSource(identifier string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(identifier))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedScheme, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrUnsupportedScheme)
	}
	return parsed.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

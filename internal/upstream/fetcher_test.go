package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/media-hub/media-hub/internal/config"
)

func TestNewHTTPClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewHTTPClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewHTTPClient(nil).Timeout != defaultTimeout {
		t.Fatalf("nil config should fall back to default timeout")
	}
}

func TestFetchBytesReturnsBody(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 1024)
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		w.Write(payload)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.Client(), Options{})
	got, err := f.FetchBytes(context.Background(), srv.URL+"/v.mp4")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch, got %d bytes", len(got))
	}
	if ua, _ := agent.Load().(string); !strings.HasPrefix(ua, "media-hub/") {
		t.Fatalf("expected user agent to be set")
	}
}

func TestFetchBytesRejectsUnsupportedScheme(t *testing.T) {
	f := newTestFetcher(nil, Options{})
	for _, id := range []string{"file:///etc/passwd", "ftp://host/a.jpg", "not a url", "https://"} {
		if _, err := f.FetchBytes(context.Background(), id); !errors.Is(err, ErrUnsupportedScheme) {
			t.Fatalf("expected ErrUnsupportedScheme for %q, got %v", id, err)
		}
	}
}

func TestFetchBytesDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.Client(), Options{MaxRetries: 3})
	_, err := f.FetchBytes(context.Background(), srv.URL)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("404 must not be retried, calls=%d", calls)
	}
}

func TestFetchBytesRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	var waits []time.Duration
	f := newTestFetcher(srv.Client(), Options{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond})
	f.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	got, err := f.FetchBytes(context.Background(), srv.URL)
	if err != nil || string(got) != "ok" {
		t.Fatalf("expected success after retries, got %q err=%v", got, err)
	}
	if len(waits) != 2 || waits[0] != 100*time.Millisecond || waits[1] != 200*time.Millisecond {
		t.Fatalf("unexpected backoff sequence: %v", waits)
	}
}

func TestFetchBytesGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.Client(), Options{MaxRetries: 2})
	f.sleep = func(context.Context, time.Duration) error { return nil }

	if _, err := f.FetchBytes(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchBytesEnforcesPayloadLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{1}, 2048))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.Client(), Options{MaxPayloadSize: 1024, MaxRetries: 3})
	if _, err := f.FetchBytes(context.Background(), srv.URL); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestFetchBytesStopsOnCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFetcher(srv.Client(), Options{MaxRetries: 5, InitialBackoff: time.Hour})
	f.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	if _, err := f.FetchBytes(ctx, srv.URL); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	f := newTestFetcher(nil, Options{InitialBackoff: 10 * time.Second})
	if got := f.backoff(10); got != maxBackoff {
		t.Fatalf("expected capped backoff, got %v", got)
	}
}

func newTestFetcher(client *http.Client, opts Options) *Fetcher {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts.Logger = logger
	return NewFetcher(client, opts)
}

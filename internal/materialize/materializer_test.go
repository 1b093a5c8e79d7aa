package materialize

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func TestMaterializeRoundTrip(t *testing.T) {
	m := newTestMaterializer(t, Options{})
	payload := bytes.Repeat([]byte{0xAB}, 1024)

	path, err := m.Materialize(payload, ".mp4")
	if err != nil {
		t.Fatalf("materialize error: %v", err)
	}
	if filepath.Dir(path) != m.Dir() || filepath.Ext(path) != ".mp4" {
		t.Fatalf("unexpected artifact path %s", path)
	}
	if _, err := uuid.Parse(strings.TrimSuffix(filepath.Base(path), ".mp4")); err != nil {
		t.Fatalf("artifact should be named by uuid: %s", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("artifact bytes mismatch")
	}
}

func TestMaterializeUniquePaths(t *testing.T) {
	m := newTestMaterializer(t, Options{})
	first, _ := m.Materialize([]byte("a"), ".mp4")
	second, _ := m.Materialize([]byte("a"), ".mp4")
	if first == second {
		t.Fatalf("each call should produce a distinct file")
	}
}

func TestMaterializeExtensionDefaults(t *testing.T) {
	m := newTestMaterializer(t, Options{})
	cases := map[string]string{
		"":       ".mp4",
		".":      ".mp4",
		"mov":    ".mov",
		".jpg":   ".jpg",
		"../etc": ".mp4",
	}
	for ext, want := range cases {
		path, err := m.Materialize([]byte("x"), ext)
		if err != nil {
			t.Fatalf("materialize %q: %v", ext, err)
		}
		if got := filepath.Ext(path); got != want {
			t.Fatalf("ext %q: expected %s, got %s", ext, want, got)
		}
		if filepath.Dir(path) != m.Dir() {
			t.Fatalf("artifact escaped directory: %s", path)
		}
	}
}

func TestReleaseDeletesArtifact(t *testing.T) {
	m := newTestMaterializer(t, Options{})
	path, _ := m.Materialize([]byte("data"), ".mp4")

	if err := m.Release(path); err != nil {
		t.Fatalf("release error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("artifact should be deleted, stat err=%v", err)
	}
	if err := m.Release(path); !errors.Is(err, ErrUnknownArtifact) {
		t.Fatalf("second release should report unknown artifact, got %v", err)
	}
}

func TestReleaseRejectsForeignPaths(t *testing.T) {
	m := newTestMaterializer(t, Options{})
	foreign := filepath.Join(t.TempDir(), "keep.txt")
	if err := os.WriteFile(foreign, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write foreign: %v", err)
	}
	if err := m.Release(foreign); !errors.Is(err, ErrUnknownArtifact) {
		t.Fatalf("expected ErrUnknownArtifact, got %v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("foreign file must survive: %v", err)
	}
}

func TestSweepRemovesExpiredArtifacts(t *testing.T) {
	m := newTestMaterializer(t, Options{MaxAge: time.Hour})
	clock := time.Now()
	m.now = func() time.Time { return clock }

	old, _ := m.Materialize([]byte("old"), ".mp4")
	clock = clock.Add(90 * time.Minute)
	fresh, _ := m.Materialize([]byte("fresh"), ".mp4")

	result := m.Sweep(context.Background())
	if result.Removed != 1 || result.FreedBytes != 3 {
		t.Fatalf("unexpected sweep result: %+v", result)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expired artifact should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh artifact should remain: %v", err)
	}
}

func TestMaxFilesEvictsOldest(t *testing.T) {
	m := newTestMaterializer(t, Options{MaxFiles: 2})
	clock := time.Now()
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, _ := m.Materialize([]byte("1"), ".mp4")
	second, _ := m.Materialize([]byte("2"), ".mp4")
	third, _ := m.Materialize([]byte("3"), ".mp4")

	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatalf("oldest artifact should be evicted")
	}
	for _, p := range []string{second, third} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("artifact %s should remain: %v", p, err)
		}
	}
	if stats := m.Stats(); stats.Files != 2 || stats.Bytes != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCloseRemovesEverything(t *testing.T) {
	m := newTestMaterializer(t, Options{})
	var paths []string
	for i := 0; i < 3; i++ {
		p, _ := m.Materialize([]byte("x"), ".mp4")
		paths = append(paths, p)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("artifact %s should be removed on close", p)
		}
	}
	if len(m.Artifacts()) != 0 {
		t.Fatalf("no artifacts should remain tracked")
	}
}

func TestNewAdoptsLeftovers(t *testing.T) {
	dir := t.TempDir()
	leftover := filepath.Join(dir, uuid.NewString()+".mp4")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{leftover, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(leftover, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	m, err := New(Options{Dir: dir, MaxAge: time.Hour, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if result := m.Sweep(context.Background()); result.Removed != 1 {
		t.Fatalf("leftover artifact should be swept, got %+v", result)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("unrelated file must survive: %v", err)
	}
}

func TestMaterializeFailsWhenDirectoryVanishes(t *testing.T) {
	m := newTestMaterializer(t, Options{})
	if err := os.RemoveAll(m.Dir()); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if _, err := m.Materialize([]byte("x"), ".mp4"); err == nil {
		t.Fatalf("expected error when artifact dir is gone")
	}
}

func TestNewRequiresDirectory(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without directory")
	}
}

func newTestMaterializer(t *testing.T, opts Options) *Materializer {
	t.Helper()
	opts.Dir = filepath.Join(t.TempDir(), "artifacts")
	opts.Logger = quietLogger()
	m, err := New(opts)
	if err != nil {
		t.Fatalf("new materializer: %v", err)
	}
	return m
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

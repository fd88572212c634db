package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
log:
  level: debug
  console: true
storage:
  path: /var/lib/skyalert/skyalert.db
  busy_timeout: 5s
redis:
  enabled: true
  addr: localhost:6379
engine:
  rule_cache_ttl: 15s
  default_cooldown: 5m
notify:
  workers: 4
  queue_size: 256
  retry_max: 5
  retry_base: 2s
  fallback_endpoints: "https://hooks.slack.com/T/B/x,https://example.com/hook"
ops:
  enabled: true
  addr: 127.0.0.1:8077
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Console {
		t.Fatalf("log config = %+v", cfg.Log)
	}
	if cfg.Storage.Path != "/var/lib/skyalert/skyalert.db" {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis config = %+v", cfg.Redis)
	}
	if cfg.Notify.Workers != 4 || cfg.Notify.RetryMax != 5 {
		t.Fatalf("notify config = %+v", cfg.Notify)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.json",
		`{"log":{"level":"info","console":false},"storage":{"path":"db.sqlite"}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Storage.Path != "db.sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", "log:\n  level: info\nsurprise: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := m.Load(); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestReloadPublishesOnChange(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", "log:\n  level: info\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Unchanged content: no publish.
	if err := m.Reload(t.Context()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("unchanged config must not republish")
	case <-time.After(50 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := m.Reload(t.Context()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case next := <-ch:
		if next.Log.Level != "warn" {
			t.Fatalf("published level = %q, want warn", next.Log.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("changed config never published")
	}
}

func TestReloadValidatorRejects(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", "log:\n  level: info\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		return errors.New("nope")
	})

	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := m.Reload(t.Context()); err == nil {
		t.Fatal("validator rejection must fail the reload")
	}
	if m.Get().Log.Level != "info" {
		t.Fatal("rejected config must not be committed")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("engine.default_cooldown", "5m"); err != nil || d != 5*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("engine.default_cooldown", "five minutes"); err == nil {
		t.Fatal("invalid duration must error")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationOrDefault("x", "", 15*time.Second); err != nil || d != 15*time.Second {
		t.Fatalf("empty should take the default: %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "30s", 15*time.Second); err != nil || d != 30*time.Second {
		t.Fatalf("explicit value ignored: %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "bogus", time.Second); err == nil {
		t.Fatal("invalid duration must error")
	}
}

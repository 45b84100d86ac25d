package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SARAFAN_BACKEND_URL", "SARAFAN_AUTO_PUBLISH", "SARAFAN_BRIDGE_ENABLED", "SARAFAN_BRIDGE_PORT"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.File.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", cfg.File.Version)
	}
	if cfg.BackendURL() != DefaultBackendURL {
		t.Fatalf("backend url = %q, want %q", cfg.BackendURL(), DefaultBackendURL)
	}
	if cfg.AutoPublish() {
		t.Fatalf("auto publish must default to false")
	}
	if cfg.BackendTimeout() != 0 {
		t.Fatalf("expected no backend timeout, got %s", cfg.BackendTimeout())
	}
	if cfg.RestartDelay() != DefaultRestartDelay {
		t.Fatalf("restart delay = %s", cfg.RestartDelay())
	}
	if cfg.QueueCapacity() != DefaultQueueCapacity {
		t.Fatalf("queue capacity = %d", cfg.QueueCapacity())
	}
	if got := cfg.LogPath(); got != filepath.Join(home, "logs", "sarafan.log") {
		t.Fatalf("log path = %q", got)
	}
}

func TestInitDirWritesLoadableDefaults(t *testing.T) {
	clearEnv(t)
	home := filepath.Join(t.TempDir(), "sarafan")
	if err := InitDir(home); err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "logs")); err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load after init: %v", err)
	}
	if cfg.BridgeEnabled() {
		t.Fatalf("bridge should be disabled by default")
	}
	if cfg.BridgeAddress() != "127.0.0.1:9232" {
		t.Fatalf("bridge address = %q", cfg.BridgeAddress())
	}
	// A second init must not clobber user edits.
	if err := os.WriteFile(cfg.Path(), []byte("version: 1\nworkflows:\n  auto_publish: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := InitDir(home); err != nil {
		t.Fatalf("second InitDir: %v", err)
	}
	cfg, err = Load(home)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !cfg.AutoPublish() {
		t.Fatalf("expected user edit to survive InitDir")
	}
}

func TestLoadParsesYaml(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	configYAML := strings.TrimSpace(`
version: 1
backend:
  url: https://node.example.org
  timeout: 5s
workflows:
  auto_publish: true
  restart_delay: 1s
intents:
  queue_capacity: 8
bridge:
  enabled: true
  port: 9999
logging:
  file: /var/log/sarafan.log
  level: WARN
`)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BackendURL() != "https://node.example.org/" {
		t.Fatalf("expected trailing slash, got %q", cfg.BackendURL())
	}
	if cfg.BackendTimeout() != 5*time.Second {
		t.Fatalf("timeout = %s", cfg.BackendTimeout())
	}
	if !cfg.AutoPublish() || cfg.RestartDelay() != time.Second {
		t.Fatalf("workflow settings not parsed: %+v", cfg.File.Workflows)
	}
	if cfg.QueueCapacity() != 8 {
		t.Fatalf("queue capacity = %d", cfg.QueueCapacity())
	}
	if !cfg.BridgeEnabled() || cfg.BridgeAddress() != "127.0.0.1:9999" {
		t.Fatalf("bridge settings not parsed: %+v", cfg.File.Bridge)
	}
	if cfg.LogPath() != "/var/log/sarafan.log" || cfg.LogLevel() != "warn" {
		t.Fatalf("logging settings not parsed: %+v", cfg.File.Logging)
	}
}

func TestLoadValidation(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"scheme":  "backend:\n  url: ftp://node\n",
		"timeout": "backend:\n  timeout: soon\n",
		"port":    "bridge:\n  port: 70000\n",
		"level":   "logging:\n  level: chatty\n",
		"yaml":    "backend: [\n",
	}
	for name, body := range cases {
		home := t.TempDir()
		if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(home); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SARAFAN_BACKEND_URL", "http://10.0.0.5:9231")
	t.Setenv("SARAFAN_AUTO_PUBLISH", "true")
	t.Setenv("SARAFAN_BRIDGE_ENABLED", "1")
	t.Setenv("SARAFAN_BRIDGE_PORT", "7000")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL() != "http://10.0.0.5:9231/" {
		t.Fatalf("backend url = %q", cfg.BackendURL())
	}
	if !cfg.AutoPublish() || !cfg.BridgeEnabled() || cfg.File.Bridge.Port != 7000 {
		t.Fatalf("env overrides not applied: %+v", cfg.File)
	}
}

func TestSetAutoPublishPersists(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	if err := InitDir(home); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetAutoPublish(true); err != nil {
		t.Fatalf("SetAutoPublish: %v", err)
	}
	reloaded, err := Load(home)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.AutoPublish() {
		t.Fatalf("auto publish not persisted")
	}
}

func TestDefaultHomeHonoursEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	home, err := DefaultHome()
	if err != nil {
		t.Fatal(err)
	}
	if home != filepath.Clean(dir) {
		t.Fatalf("home = %q, want %q", home, dir)
	}
}

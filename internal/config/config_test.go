package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "querygate.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadServers(t *testing.T) {
	path := writeConfig(t, `
servers:
  - label: local dev
    url: http://localhost:10000
    kind: direct
  - label: prod gateway
    url: https://gateway.example.com:8123
    kind: gateway
    token: abc123
`)

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(f.Servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(f.Servers))
	}
	if f.Servers[0].Kind != "direct" || f.Servers[0].URL != "http://localhost:10000" {
		t.Errorf("unexpected first server: %+v", f.Servers[0])
	}
	if f.Servers[1].Token != "abc123" {
		t.Errorf("token not parsed: %+v", f.Servers[1])
	}
}

func TestLoadRejectsMissingURL(t *testing.T) {
	path := writeConfig(t, `
servers:
  - label: broken
    kind: direct
`)
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a server without url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestProvisionConfigDefaults(t *testing.T) {
	cfg := DefaultProvisionConfig()
	if cfg.HeapGB != DefaultHeapGB {
		t.Errorf("HeapGB = %v, want %v", cfg.HeapGB, DefaultHeapGB)
	}
	if cfg.FallbackLanguage != DefaultScriptLanguage {
		t.Errorf("FallbackLanguage = %q", cfg.FallbackLanguage)
	}
	if len(cfg.ExtraJVMArgs) != 1 || cfg.ExtraJVMArgs[0] != WebsocketJVMFlag {
		t.Errorf("ExtraJVMArgs = %v", cfg.ExtraJVMArgs)
	}
}

func TestProvisionConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
servers:
  - url: http://localhost:10000
    kind: direct
provision:
  heap_gb: 16
  language: groovy
  auto_delete_minutes: 5
`)

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := f.ProvisionConfig()
	if cfg.HeapGB != 16 {
		t.Errorf("HeapGB = %v, want 16", cfg.HeapGB)
	}
	if cfg.FallbackLanguage != "groovy" {
		t.Errorf("FallbackLanguage = %q, want groovy", cfg.FallbackLanguage)
	}
	if cfg.AutoDeleteTimeout != 5*time.Minute {
		t.Errorf("AutoDeleteTimeout = %v, want 5m", cfg.AutoDeleteTimeout)
	}
	if cfg.QueueName != DefaultWorkerQueue {
		t.Errorf("QueueName = %q, want default", cfg.QueueName)
	}
}

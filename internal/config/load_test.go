package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"telegram": {"token": "123:abc", "poll_timeout": "5s"},
		"logging": {"level": "debug", "console": true},
		"storage": {"driver": "sqlite", "path": "/tmp/jobs.db"}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  console: true
storage:
  driver: mongo
  uri: mongodb://localhost:27017
  database: schedbot
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "mongo" || cfg.Storage.URI != "mongodb://localhost:27017" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown field", file: "c.json", body: `{"telegram":{"token":"t"},"storage":{"path":"x"},"bogus":1}`},
		{name: "missing token", file: "c.json", body: `{"storage":{"path":"x"}}`},
		{name: "missing sqlite path", file: "c.json", body: `{"telegram":{"token":"t"},"storage":{"driver":"sqlite"}}`},
		{name: "missing mongo uri", file: "c.json", body: `{"telegram":{"token":"t"},"storage":{"driver":"mongo"}}`},
		{name: "bad duration", file: "c.json", body: `{"telegram":{"token":"t","poll_timeout":"soon"},"storage":{"path":"x"}}`},
		{name: "bad driver", file: "c.json", body: `{"telegram":{"token":"t"},"storage":{"driver":"etcd"}}`},
		{name: "trailing data", file: "c.json", body: `{"telegram":{"token":"t"},"storage":{"path":"x"}}{}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.body)
			if _, err := NewManager(path).Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

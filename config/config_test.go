package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolboard.toml")
	data := `
[server]
addr = ":9000"
session_ttl = "12h"

[api]
base_url = "https://api.example"

[poll]
interval = "10s"
timeout = "5s"

[store]
kind = "leveldb"
path = "/tmp/pb"

[reward]
coins_per_block = 60.0
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PB_ADDR", ":9100")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9100" {
		t.Fatal("env should override file")
	}
	if cfg.SessionTTL != 12*time.Hour || cfg.PollInterval != 10*time.Second || cfg.PollTimeout != 5*time.Second {
		t.Fatal("durations")
	}
	if cfg.StoreKind != "leveldb" || cfg.CoinsPerBlock != 60 || cfg.APIBaseURL != "https://api.example" {
		t.Fatal("file values")
	}
	if cfg.MQKind != "memory" {
		t.Fatal("defaults kept")
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	_ = os.WriteFile(path, []byte("[poll]\ninterval = \"soon\"\n"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("expect duration error")
	}
	t.Setenv("PB_STORE", "pg")
	t.Setenv("PB_PG_DSN", "")
	if _, err := Load(""); err == nil {
		t.Fatal("pg without dsn")
	}
}

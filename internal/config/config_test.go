package config

import (
	"testing"
	"time"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[network]
tick_rate = "100ms"

[grid]
chunk_size = 8
proxy_margin = 0.5
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Network.TickRate != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %s", cfg.Network.TickRate)
	}
	if cfg.Grid.ChunkSize != 8 || cfg.Grid.ProxyMargin != 0.5 {
		t.Fatalf("unexpected grid config %+v", cfg.Grid)
	}
	if cfg.Grid.TileSize != 1 || cfg.Network.BindAddress != "0.0.0.0:7001" {
		t.Fatalf("expected untouched keys to keep defaults")
	}
}

func TestParseRejectsBadGrid(t *testing.T) {
	if _, err := Parse([]byte("[grid]\nchunk_size = 0\ntile_size = -1\n")); err == nil {
		t.Fatalf("expected invalid grid config to fail")
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/x.toml")
	if p := Path(); p != "/tmp/x.toml" {
		t.Fatalf("expected env override, got %s", p)
	}
	t.Setenv(EnvPath, "")
	if p := Path(); p != DefaultPath {
		t.Fatalf("expected default path, got %s", p)
	}
}

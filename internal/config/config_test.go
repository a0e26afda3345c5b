package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vadlink/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromReader_OverridesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: debug
audio:
  sample_rate: 8000
  frame: 20ms
  padding: 200ms
delivery:
  server_addr: 10.21.50.10:12345
  interval: 10s
  archive: false
receiver:
  player: none
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Audio.SampleRate != 8000 || cfg.Audio.Frame != 20*time.Millisecond {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Delivery.Interval != 10*time.Second || cfg.Delivery.Archive {
		t.Errorf("delivery = %+v", cfg.Delivery)
	}
	// Untouched keys keep their defaults.
	if cfg.Delivery.Tick != time.Second || cfg.Receiver.ListenAddr != ":12345" {
		t.Errorf("defaults lost: tick=%v listen=%q", cfg.Delivery.Tick, cfg.Receiver.ListenAddr)
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if cfg.Audio.Padding != 300*time.Millisecond {
		t.Errorf("padding = %v, want default 300ms", cfg.Audio.Padding)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("delivery:\n  sever_addr: x:1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: loud
audio:
  sample_rate: 44100
  padding: 10ms
delivery:
  server_addr: nowhere
  tick: 1m
  interval: 30s
receiver:
  player: vlc
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log_level", "sample_rate", "audio.padding", "server_addr", "delivery.tick", "receiver.player"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	env := map[string]string{
		"VADLINK_SERVER_ADDR": " 192.168.1.5:9000 ",
		"VADLINK_SOCKS_PROXY": "127.0.0.1:1080",
		"VADLINK_LOG_LEVEL":   "warn",
	}
	config.ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if cfg.Delivery.ServerAddr != "192.168.1.5:9000" {
		t.Errorf("server_addr = %q", cfg.Delivery.ServerAddr)
	}
	if cfg.Delivery.SocksProxy != "127.0.0.1:1080" || cfg.LogLevel != "warn" {
		t.Errorf("socks=%q log=%q", cfg.Delivery.SocksProxy, cfg.LogLevel)
	}
	if cfg.Receiver.ListenAddr != ":12345" {
		t.Errorf("unset variable changed listen_addr to %q", cfg.Receiver.ListenAddr)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vadlink.yaml")
	if err := os.WriteFile(path, []byte("delivery:\n  server_addr: example.org:12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VADLINK_METRICS_ADDR", "127.0.0.1:9464")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Delivery.ServerAddr != "example.org:12345" {
		t.Errorf("server_addr = %q", cfg.Delivery.ServerAddr)
	}
	if cfg.Metrics.ListenAddr != "127.0.0.1:9464" {
		t.Errorf("metrics addr = %q", cfg.Metrics.ListenAddr)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExampleFileLoads(t *testing.T) {
	t.Parallel()
	f, err := os.Open(filepath.Join("..", "..", "vadlink.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	cfg, err := config.LoadFromReader(f)
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	want := config.Default()
	if cfg.Audio != want.Audio || cfg.Delivery != want.Delivery || cfg.Receiver != want.Receiver {
		t.Errorf("example config drifted from defaults:\n got %+v\nwant %+v", cfg, want)
	}
}

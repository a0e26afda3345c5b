// Package config loads the YAML configuration shared by the sender and the
// receiver, applies environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vadlink/internal/audio"
	"vadlink/internal/playback"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Audio    AudioConfig    `yaml:"audio"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Receiver ReceiverConfig `yaml:"receiver"`
	Control  ControlConfig  `yaml:"control"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type AudioConfig struct {
	SampleRate      int           `yaml:"sample_rate"`
	Frame           time.Duration `yaml:"frame"`
	Padding         time.Duration `yaml:"padding"`
	EnergyThreshold float64       `yaml:"energy_threshold"`
	QueueSize       int           `yaml:"queue_size"`
}

type DeliveryConfig struct {
	ServerAddr   string        `yaml:"server_addr"`
	Interval     time.Duration `yaml:"interval"`
	Tick         time.Duration `yaml:"tick"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PendingDir   string        `yaml:"pending_dir"`
	Archive      bool          `yaml:"archive"`
	ArchiveDir   string        `yaml:"archive_dir"`
	SocksProxy   string        `yaml:"socks_proxy"`
}

type ReceiverConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	Dir         string        `yaml:"dir"`
	MaxConns    int           `yaml:"max_conns"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	MaxPayload  uint32        `yaml:"max_payload"`
	Player      string        `yaml:"player"`
	SpeakerRate int           `yaml:"speaker_rate"`
}

type ControlConfig struct {
	Socket string `yaml:"socket"`
}

type MetricsConfig struct {
	// ListenAddr enables /metrics when set.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			SampleRate:      16000,
			Frame:           30 * time.Millisecond,
			Padding:         300 * time.Millisecond,
			EnergyThreshold: audio.DefaultEnergyThreshold,
			QueueSize:       256,
		},
		Delivery: DeliveryConfig{
			ServerAddr:   "127.0.0.1:12345",
			Interval:     30 * time.Second,
			Tick:         time.Second,
			DialTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			PendingDir:   "pending_audio",
			Archive:      true,
			ArchiveDir:   "sent_audio",
		},
		Receiver: ReceiverConfig{
			ListenAddr:  ":12345",
			Dir:         "received_audio",
			MaxConns:    16,
			ReadTimeout: 60 * time.Second,
			MaxPayload:  256 << 20,
			Player:      playback.KindCommand,
			SpeakerRate: 44100,
		},
		Control: ControlConfig{
			Socket: "/tmp/vadlink.sock",
		},
	}
}

// Load reads path over the defaults, applies VADLINK_* environment
// overrides and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	ApplyEnv(cfg, os.LookupEnv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes r over the defaults and validates the result.
// Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with any VADLINK_* variables lookup finds.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"VADLINK_LOG_LEVEL", &cfg.LogLevel},
		{"VADLINK_SERVER_ADDR", &cfg.Delivery.ServerAddr},
		{"VADLINK_SOCKS_PROXY", &cfg.Delivery.SocksProxy},
		{"VADLINK_LISTEN_ADDR", &cfg.Receiver.ListenAddr},
		{"VADLINK_PLAYER", &cfg.Receiver.Player},
		{"VADLINK_CONTROL_SOCKET", &cfg.Control.Socket},
		{"VADLINK_METRICS_ADDR", &cfg.Metrics.ListenAddr},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok {
			*o.dst = strings.TrimSpace(v)
		}
	}
}

// Validate returns every problem in cfg joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	switch strings.ToLower(cfg.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	a := cfg.Audio
	frameSamples := audio.FrameSamples(a.SampleRate, a.Frame)
	if err := audio.ValidFrame(2*frameSamples, a.SampleRate); err != nil || a.Frame%time.Millisecond != 0 {
		errs = append(errs, fmt.Errorf("audio: sample_rate %d with frame %v is not supported; use 8000/16000/32000/48000 Hz and 10/20/30ms frames", a.SampleRate, a.Frame))
	}
	if a.Frame > 0 && a.Padding < a.Frame {
		errs = append(errs, fmt.Errorf("audio.padding %v must be at least one frame (%v)", a.Padding, a.Frame))
	}
	if a.EnergyThreshold <= 0 || a.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.energy_threshold %v must be between 0 and 1", a.EnergyThreshold))
	}
	if a.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size must be positive, got %d", a.QueueSize))
	}

	d := cfg.Delivery
	if _, _, err := net.SplitHostPort(d.ServerAddr); err != nil || d.ServerAddr == "" {
		errs = append(errs, fmt.Errorf("delivery.server_addr %q must be host:port", d.ServerAddr))
	}
	if d.Interval <= 0 {
		errs = append(errs, fmt.Errorf("delivery.interval must be positive, got %v", d.Interval))
	}
	if d.Tick <= 0 {
		errs = append(errs, fmt.Errorf("delivery.tick must be positive, got %v", d.Tick))
	} else if d.Interval > 0 && d.Tick > d.Interval {
		errs = append(errs, fmt.Errorf("delivery.tick %v must not exceed delivery.interval %v", d.Tick, d.Interval))
	}
	if d.DialTimeout <= 0 || d.WriteTimeout <= 0 {
		errs = append(errs, errors.New("delivery.dial_timeout and delivery.write_timeout must be positive"))
	}
	if d.PendingDir == "" {
		errs = append(errs, errors.New("delivery.pending_dir is required"))
	}
	if d.Archive && d.ArchiveDir == "" {
		errs = append(errs, errors.New("delivery.archive_dir is required when delivery.archive is on"))
	}
	if d.SocksProxy != "" {
		if _, _, err := net.SplitHostPort(d.SocksProxy); err != nil {
			errs = append(errs, fmt.Errorf("delivery.socks_proxy %q must be host:port", d.SocksProxy))
		}
	}

	r := cfg.Receiver
	if _, _, err := net.SplitHostPort(r.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("receiver.listen_addr %q must be [host]:port", r.ListenAddr))
	}
	if r.Dir == "" {
		errs = append(errs, errors.New("receiver.dir is required"))
	}
	if r.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("receiver.max_conns must be positive, got %d", r.MaxConns))
	}
	if r.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("receiver.read_timeout must be positive, got %v", r.ReadTimeout))
	}
	switch r.Player {
	case playback.KindCommand, playback.KindSpeaker, playback.KindNone:
	default:
		errs = append(errs, fmt.Errorf("receiver.player %q is invalid; valid values: command, speaker, none", r.Player))
	}

	if cfg.Metrics.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen_addr %q must be [host]:port", cfg.Metrics.ListenAddr))
		}
	}

	return errors.Join(errs...)
}

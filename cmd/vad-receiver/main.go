package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	log "log/slog"

	"vadlink/internal/config"
	"vadlink/internal/observe"
	"vadlink/internal/playback"
	"vadlink/internal/playback/speaker"
	"vadlink/internal/receiver"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgPath := cli.StringP("config", "c", "", "Config file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides config)")
	listen := cli.StringP("listen", "a", "", "Listen address [host]:port")
	dir := cli.StringP("dir", "d", "", "Directory for received audio")
	player := cli.String("player", "", "Player: command, speaker or none")
	cli.Parse()

	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		observe.SetupLogging(os.Stderr, "info")
		log.Error("Failed to load config", "err", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *listen != "" {
		cfg.Receiver.ListenAddr = *listen
	}
	if *dir != "" {
		cfg.Receiver.Dir = *dir
	}
	if *player != "" {
		cfg.Receiver.Player = *player
	}
	if err := config.Validate(cfg); err != nil {
		observe.SetupLogging(os.Stderr, "info")
		log.Error("Invalid flags", "err", err)
		return 1
	}

	observe.SetupLogging(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.ListenAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vad-receiver"})
		if err != nil {
			log.Error("Failed to init metrics", "err", err)
			return 1
		}
		defer shutdown(context.Background())
	}

	p, err := newPlayer(cfg.Receiver.Player, cfg.Receiver.SpeakerRate)
	if err != nil {
		log.Error("Failed to create player", "err", err)
		return 1
	}

	srv, err := receiver.New(receiver.Config{
		ListenAddr:  cfg.Receiver.ListenAddr,
		Dir:         cfg.Receiver.Dir,
		MaxConns:    cfg.Receiver.MaxConns,
		ReadTimeout: cfg.Receiver.ReadTimeout,
		MaxPayload:  cfg.Receiver.MaxPayload,
		Metrics:     observe.DefaultMetrics(),
	}, p)
	if err != nil {
		log.Error("Failed to create receiver", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if cfg.Metrics.ListenAddr != "" {
		g.Go(func() error { return observe.Serve(gctx, cfg.Metrics.ListenAddr) })
	}

	if err := g.Wait(); err != nil {
		log.Error("Receiver stopped", "err", err)
		return 1
	}
	log.Info("Receiver stopped")
	return 0
}

func newPlayer(kind string, rate int) (playback.Player, error) {
	switch kind {
	case "", playback.KindCommand:
		return playback.NewCommandPlayer(), nil
	case playback.KindSpeaker:
		return speaker.New(rate), nil
	case playback.KindNone:
		return playback.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown player %q", kind)
	}
}

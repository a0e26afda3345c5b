package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	log "log/slog"

	"vadlink/internal/audio"
	"vadlink/internal/audio/mic"
	"vadlink/internal/config"
	"vadlink/internal/delivery"
	"vadlink/internal/ipc"
	"vadlink/internal/observe"
	"vadlink/internal/pipeline"
	"vadlink/internal/proxy"
	"vadlink/internal/segment"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgPath := cli.StringP("config", "c", "", "Config file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides config)")
	server := cli.StringP("server", "s", "", "Receiver address host:port")
	proxyAddr := cli.StringP("proxy", "p", "", "SOCKS5 proxy address")
	noArchive := cli.Bool("no-archive", false, "Do not keep copies of sent payloads")
	cli.Parse()

	// A missing .env is normal.
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
	if *server != "" {
		cfg.Delivery.ServerAddr = *server
	}
	if *proxyAddr != "" {
		cfg.Delivery.SocksProxy = *proxyAddr
	}
	if *noArchive {
		cfg.Delivery.Archive = false
	}
	if err := config.Validate(cfg); err != nil {
		observe.SetupLogging(os.Stderr, "info")
		log.Error("Invalid flags", "err", err)
		return 1
	}

	observe.SetupLogging(os.Stdout, cfg.LogLevel)
	log.Info("Booting up", "server", cfg.Delivery.ServerAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.ListenAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vad-sender"})
		if err != nil {
			log.Error("Failed to init metrics", "err", err)
			return 1
		}
		defer shutdown(context.Background())
	}
	metrics := observe.DefaultMetrics()

	rec := mic.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Frame)
	if err := rec.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		return 1
	}
	defer rec.Close()

	log.Debug("Loaded recorder")

	buf := segment.NewBuffer()
	seg, err := segment.New(segment.Config{
		SampleRate:    cfg.Audio.SampleRate,
		FrameDuration: cfg.Audio.Frame,
		Padding:       cfg.Audio.Padding,
	}, audio.NewEnergyClassifier(cfg.Audio.EnergyThreshold), buf, segment.WithMetrics(metrics))
	if err != nil {
		log.Error("Failed to create segmenter", "err", err)
		return 1
	}
	seg.OnEvent(func(e segment.Event) {
		switch e.Kind {
		case segment.EventSpeechStarted:
			log.Info("Speech detected")
		case segment.EventSpeechEnded:
			log.Info("Speech ended", "frames", e.Frames, "buffered", buf.Len())
		}
	})

	pending, err := delivery.OpenPendingStore(cfg.Delivery.PendingDir)
	if err != nil {
		log.Error("Failed to open pending store", "err", err)
		return 1
	}
	var archive *delivery.Archive
	if cfg.Delivery.Archive {
		if archive, err = delivery.OpenArchive(cfg.Delivery.ArchiveDir); err != nil {
			log.Error("Failed to open archive", "err", err)
			return 1
		}
	}

	dialer, err := proxy.NewDialer(cfg.Delivery.SocksProxy, cfg.Delivery.DialTimeout)
	if err != nil {
		log.Error("Failed to set up socks proxy", "proxy", cfg.Delivery.SocksProxy, "err", err)
		return 1
	}
	tr := delivery.NewTCPTransport(cfg.Delivery.ServerAddr, dialer)
	tr.DialTimeout = cfg.Delivery.DialTimeout
	tr.WriteTimeout = cfg.Delivery.WriteTimeout

	sched := delivery.NewScheduler(delivery.SchedulerConfig{
		Interval:   cfg.Delivery.Interval,
		Tick:       cfg.Delivery.Tick,
		SampleRate: cfg.Audio.SampleRate,
		Metrics:    metrics,
	}, buf, tr, pending, archive)

	pipe := pipeline.New(rec, seg, cfg.Audio.QueueSize)
	pipe.SetMetrics(metrics)

	ctl, err := ipc.Listen(cfg.Control.Socket)
	if err != nil {
		log.Error("Failed ipc server", "socket", cfg.Control.Socket, "err", err)
		return 1
	}

	log.Info("Boot up - successful", "padding_frames", seg.PaddingFrames(), "pending", pending.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return ctl.Serve(gctx, controlHandler(sched)) })
	if cfg.Metrics.ListenAddr != "" {
		g.Go(func() error { return observe.Serve(gctx, cfg.Metrics.ListenAddr) })
	}

	err = g.Wait()

	// The pipeline may close a segment after the scheduler has stopped.
	sched.PersistBuffered()

	if err != nil {
		log.Error("Sender stopped", "err", err)
		return 1
	}
	log.Info("Sender stopped")
	return 0
}

func controlHandler(sched *delivery.Scheduler) ipc.Handler {
	return func(req ipc.Request) ipc.Response {
		switch req.Cmd {
		case ipc.CmdFlush:
			sched.RequestFlush()
			log.Info("Flush requested")
			return ipc.Response{OK: true}
		case ipc.CmdStatus:
			st, err := json.Marshal(sched.Status())
			if err != nil {
				return ipc.Response{Error: err.Error()}
			}
			return ipc.Response{OK: true, Status: st}
		default:
			log.Warn("Unknown command", "cmd", req.Cmd)
			return ipc.Response{Error: "unknown command " + req.Cmd}
		}
	}
}

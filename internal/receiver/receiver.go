// Package receiver accepts framed payloads from senders, stores each one in
// the output directory and hands complete ones to a player.
package receiver

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vadlink/internal/observe"
	"vadlink/internal/playback"
	"vadlink/pkg/protocol"
	"vadlink/pkg/wavfile"
)

const (
	DefaultListenAddr  = ":12345"
	DefaultMaxConns    = 16
	DefaultReadTimeout = 60 * time.Second
	// DefaultMaxPayload bounds the memory one connection can claim.
	DefaultMaxPayload = 256 << 20
)

type Config struct {
	ListenAddr  string
	Dir         string
	MaxConns    int
	ReadTimeout time.Duration
	MaxPayload  uint32
	Metrics     *observe.Metrics
}

type Server struct {
	cfg     Config
	player  playback.Player
	metrics *observe.Metrics
	now     func() time.Time
}

func New(cfg Config, player playback.Player) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Dir == "" {
		cfg.Dir = "received_audio"
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if player == nil {
		player = playback.Nop{}
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	return &Server{cfg: cfg, player: player, metrics: cfg.Metrics, now: time.Now}, nil
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln and waits
// for running handlers. At most MaxConns connections are handled at once;
// further ones wait in the listen backlog.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	sem := semaphore.NewWeighted(int64(s.cfg.MaxConns))
	var wg sync.WaitGroup
	defer wg.Wait()

	log.Info("Receiver listening", "addr", ln.Addr().String(), "dir", s.cfg.Dir)

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warn("Accept failed", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	s.metrics.ActiveHandlers.Add(ctx, 1)
	defer s.metrics.ActiveHandlers.Add(context.WithoutCancel(ctx), -1)

	host, port := splitAddr(conn.RemoteAddr())
	logger := log.With("peer", conn.RemoteAddr().String())
	logger.Info("Connected")

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		logger.Warn("Failed to set read deadline", "err", err)
	}

	data, err := protocol.ReadMessage(conn, s.cfg.MaxPayload)
	truncated := false
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrTruncated):
		truncated = true
	case errors.Is(err, protocol.ErrNoHeader):
		logger.Warn("Connection closed before length header")
		return
	default:
		logger.Warn("Failed to read payload", "err", err)
		return
	}

	path, werr := s.persist(data, host, port)
	if werr != nil {
		logger.Error("Failed to save payload", "bytes", len(data), "err", werr)
		return
	}

	if truncated {
		s.metrics.PayloadsTruncated.Add(ctx, 1)
		logger.Warn("Saved truncated payload, not playing", "path", path, "err", err)
		return
	}

	s.metrics.PayloadsReceived.Add(ctx, 1)
	if samples, f, perr := wavfile.Decode(data); perr == nil {
		logger.Info("Saved payload", "path", path, "bytes", len(data), "duration", f.Duration(len(samples)))
	} else {
		logger.Info("Saved payload", "path", path, "bytes", len(data), "wav", false)
	}

	if err := s.player.Play(path); err != nil {
		logger.Warn("Playback failed", "path", path, "err", err)
	}
}

func (s *Server) persist(data []byte, host, port string) (string, error) {
	name := fmt.Sprintf("received_from_%s_%s_%s.wav", host, port, s.now().Format("20060102_150405.000000000"))
	path := filepath.Join(s.cfg.Dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// splitAddr returns the peer host and port in a form safe for file names.
func splitAddr(addr net.Addr) (string, string) {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return sanitize(addr.String()), "0"
	}
	return sanitize(host), port
}

func sanitize(s string) string {
	return strings.NewReplacer(":", "-", "%", "-", "/", "-", "\\", "-").Replace(s)
}

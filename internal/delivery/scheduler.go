// Package delivery moves buffered speech to the receiver: periodic flushes,
// durable retry of failed payloads and an audit archive of sent ones.
package delivery

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"vadlink/internal/observe"
	"vadlink/internal/segment"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTick     = time.Second
)

type SchedulerConfig struct {
	// Interval is the minimum time between two flushes of the buffer.
	Interval time.Duration
	// Tick is how often the scheduler wakes up.
	Tick       time.Duration
	SampleRate int

	// Now defaults to time.Now.
	Now     func() time.Time
	Metrics *observe.Metrics
}

// Status is a snapshot of the scheduler for the control socket.
type Status struct {
	BufferedSegments int       `json:"buffered_segments"`
	BufferedFrames   int       `json:"buffered_frames"`
	Pending          int       `json:"pending"`
	LastFlush        time.Time `json:"last_flush"`
	LastError        string    `json:"last_error,omitempty"`
	Sent             uint64    `json:"sent"`
	Failed           uint64    `json:"failed"`
}

// Scheduler is the only reader of the segment buffer and the only writer of
// the pending store.
type Scheduler struct {
	cfg     SchedulerConfig
	buf     *segment.Buffer
	tr      Transport
	pending *PendingStore
	archive *Archive
	metrics *observe.Metrics

	flushReq atomic.Bool
	sent     atomic.Uint64
	failed   atomic.Uint64

	// tickMu serialises Tick and shutdown persistence.
	tickMu sync.Mutex

	mu        sync.Mutex
	lastFlush time.Time
	lastErr   error
}

// NewScheduler returns a scheduler. archive may be nil to disable audit
// copies.
func NewScheduler(cfg SchedulerConfig, buf *segment.Buffer, tr Transport, pending *PendingStore, archive *Archive) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	return &Scheduler{
		cfg:       cfg,
		buf:       buf,
		tr:        tr,
		pending:   pending,
		archive:   archive,
		metrics:   cfg.Metrics,
		lastFlush: cfg.Now(),
	}
}

// Run ticks until ctx is done, then moves anything still buffered to the
// pending store. Sends already in progress are bounded by the transport
// timeouts, not by ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	sendCtx := context.WithoutCancel(ctx)
	log.Info("Delivery scheduler started", "interval", s.cfg.Interval, "pending", s.pending.Len())

	for {
		select {
		case <-ctx.Done():
			s.PersistBuffered()
			log.Info("Delivery scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(sendCtx)
		}
	}
}

// RequestFlush makes the next tick flush regardless of the interval.
func (s *Scheduler) RequestFlush() {
	s.flushReq.Store(true)
}

// Tick runs one flush check and one pending sweep.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.cfg.Now()
	requested := s.flushReq.Swap(false)

	sendFailed := false
	if (requested || now.Sub(s.lastFlushTime()) >= s.cfg.Interval) && s.buf.Len() > 0 {
		sendFailed = !s.flush(ctx, now)
	}

	// An unreachable receiver just failed; leave the backlog for the next
	// tick.
	if !sendFailed {
		s.sweep(ctx, now)
	}

	s.metrics.PendingItems.Record(ctx, int64(s.pending.Len()))
}

// flush sends the buffer contents and reports whether they were delivered.
func (s *Scheduler) flush(ctx context.Context, now time.Time) bool {
	segs := s.buf.Drain()
	s.setLastFlush(now)

	p, err := BuildPayload(segs, s.cfg.SampleRate, now)
	if err != nil {
		log.Error("Failed to build payload, segments lost", "segments", len(segs), "err", err)
		s.metrics.PayloadsLost.Add(ctx, 1)
		s.setErr(err)
		return true
	}

	log.Info("Sending payload", "id", p.ID, "segments", p.Segments, "frames", p.Frames, "bytes", len(p.Data))

	if err := s.send(ctx, p.Data); err != nil {
		s.failed.Add(1)
		s.metrics.PayloadsFailed.Add(ctx, 1)
		log.Warn("Failed to send payload, keeping for retry", "id", p.ID, "bytes", len(p.Data), "err", err)
		s.store(ctx, p)
		return false
	}

	s.sent.Add(1)
	s.metrics.RecordSent(ctx, "fresh")
	s.archiveCopy(p.Data, now)
	log.Info("Sent payload", "id", p.ID, "bytes", len(p.Data))
	return true
}

func (s *Scheduler) sweep(ctx context.Context, now time.Time) {
	items, err := s.pending.List()
	if err != nil {
		log.Warn("Failed to list pending payloads", "err", err)
		return
	}

	for _, it := range items {
		data, err := s.pending.Load(it)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			log.Warn("Failed to load pending payload, halting sweep", "item", it.Name, "err", err)
			s.setErr(err)
			return
		}

		s.metrics.Retries.Add(ctx, 1)
		if err := s.send(ctx, data); err != nil {
			log.Warn("Retry failed, halting sweep", "item", it.Name, "err", err)
			return
		}

		s.sent.Add(1)
		s.metrics.RecordSent(ctx, "pending")
		s.archiveCopy(data, now)

		if err := s.pending.Remove(it); err != nil {
			log.Error("Delivered pending payload could not be removed", "item", it.Name, "err", err)
			s.setErr(err)
			return
		}
		log.Info("Delivered pending payload", "item", it.Name, "age", now.Sub(it.Created).Round(time.Second))
	}
}

// PersistBuffered stores whatever is buffered in the pending store without
// attempting a send. It reports whether a payload was written.
func (s *Scheduler) PersistBuffered() bool {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	segs := s.buf.Drain()
	if len(segs) == 0 {
		return false
	}

	now := s.cfg.Now()
	p, err := BuildPayload(segs, s.cfg.SampleRate, now)
	if err != nil {
		log.Error("Failed to build payload, segments lost", "segments", len(segs), "err", err)
		s.metrics.PayloadsLost.Add(context.Background(), 1)
		return false
	}
	log.Info("Persisting buffered speech for next start", "id", p.ID, "segments", p.Segments, "bytes", len(p.Data))
	return s.store(context.Background(), p)
}

func (s *Scheduler) store(ctx context.Context, p Payload) bool {
	it, err := s.pending.Put(p.Data, p.Created)
	if err != nil {
		log.Error("Failed to persist payload, payload lost", "bytes", len(p.Data), "err", err)
		s.metrics.PayloadsLost.Add(ctx, 1)
		s.setErr(err)
		return false
	}
	log.Debug("Stored pending payload", "id", p.ID, "item", it.Name)
	return true
}

func (s *Scheduler) send(ctx context.Context, data []byte) error {
	start := time.Now()
	err := s.tr.Send(ctx, data)
	s.metrics.SendDuration.Record(ctx, time.Since(start).Seconds())
	s.setErr(err)
	return err
}

func (s *Scheduler) archiveCopy(data []byte, t time.Time) {
	if s.archive == nil {
		return
	}
	path, err := s.archive.Save(data, t)
	if err != nil {
		log.Warn("Failed to archive sent payload", "err", err)
		return
	}
	log.Debug("Archived sent payload", "path", path)
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{
		LastFlush: s.lastFlush,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	st.BufferedSegments = s.buf.Len()
	st.BufferedFrames = s.buf.Frames()
	st.Pending = s.pending.Len()
	st.Sent = s.sent.Load()
	st.Failed = s.failed.Load()
	return st
}

func (s *Scheduler) lastFlushTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFlush
}

func (s *Scheduler) setLastFlush(t time.Time) {
	s.mu.Lock()
	s.lastFlush = t
	s.mu.Unlock()
}

func (s *Scheduler) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

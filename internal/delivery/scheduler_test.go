package delivery

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"vadlink/internal/audio"
	"vadlink/internal/segment"
	"vadlink/pkg/wavfile"
)

// fakeTransport fails while down is set and records what it delivered.
type fakeTransport struct {
	mu        sync.Mutex
	down      bool
	attempts  int
	delivered [][]byte
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.down {
		return errors.New("connection refused")
	}
	f.delivered = append(f.delivered, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	sched   *Scheduler
	buf     *segment.Buffer
	tr      *fakeTransport
	pending *PendingStore
	archive *Archive
	clock   *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	pending, err := OpenPendingStore(dir + "/pending_audio")
	if err != nil {
		t.Fatal(err)
	}
	archive, err := OpenArchive(dir + "/sent_audio")
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		buf:     segment.NewBuffer(),
		tr:      &fakeTransport{},
		pending: pending,
		archive: archive,
		clock:   &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.sched = NewScheduler(SchedulerConfig{
		Interval:   30 * time.Second,
		SampleRate: 16000,
		Now:        h.clock.now,
	}, h.buf, h.tr, pending, archive)
	return h
}

func (h *harness) archived(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(h.archive.dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func testSegment(frames int) segment.Segment {
	s := segment.Segment{}
	for i := 0; i < frames; i++ {
		s.Frames = append(s.Frames, audio.Frame{Samples: make([]int16, 480), Seq: uint64(i + 1)})
	}
	return s
}

func TestTick_WaitsForInterval(t *testing.T) {
	h := newHarness(t)
	h.buf.Append(testSegment(3))

	h.clock.advance(10 * time.Second)
	h.sched.Tick(context.Background())
	if h.tr.attempts != 0 {
		t.Fatalf("sent before interval elapsed")
	}

	h.clock.advance(20 * time.Second)
	h.sched.Tick(context.Background())
	if h.tr.attempts != 1 || h.buf.Len() != 0 {
		t.Fatalf("attempts = %d, buffered = %d; want 1, 0", h.tr.attempts, h.buf.Len())
	}
}

func TestTick_EmptyBufferSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.clock.advance(time.Minute)
	h.sched.Tick(context.Background())
	if h.tr.attempts != 0 {
		t.Errorf("attempts = %d, want 0", h.tr.attempts)
	}
}

func TestRequestFlush(t *testing.T) {
	h := newHarness(t)
	h.buf.Append(testSegment(2))

	h.sched.RequestFlush()
	h.sched.Tick(context.Background())
	if h.tr.attempts != 1 {
		t.Fatalf("attempts = %d, want 1", h.tr.attempts)
	}

	// The request is consumed by one tick.
	h.buf.Append(testSegment(2))
	h.sched.Tick(context.Background())
	if h.tr.attempts != 1 {
		t.Errorf("attempts = %d after second tick, want 1", h.tr.attempts)
	}
}

func TestTick_SuccessArchivesAndNeverPends(t *testing.T) {
	h := newHarness(t)
	h.buf.Append(testSegment(4))
	h.clock.advance(30 * time.Second)

	h.sched.Tick(context.Background())

	if h.pending.Len() != 0 {
		t.Errorf("pending = %d, want 0", h.pending.Len())
	}
	if got := h.archived(t); got != 1 {
		t.Errorf("archived = %d, want 1", got)
	}
	if st := h.sched.Status(); st.Sent != 1 || st.Failed != 0 || st.LastError != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestTick_UnreachableThenRecovered(t *testing.T) {
	h := newHarness(t)
	h.buf.Append(testSegment(4))
	h.tr.setDown(true)
	h.clock.advance(30 * time.Second)

	h.sched.Tick(context.Background())
	if h.pending.Len() != 1 {
		t.Fatalf("pending = %d, want 1", h.pending.Len())
	}
	if h.archived(t) != 0 {
		t.Fatal("failed payload was archived")
	}
	if st := h.sched.Status(); st.Failed != 1 || st.LastError == "" {
		t.Errorf("status after failure = %+v", st)
	}

	h.tr.setDown(false)
	h.clock.advance(time.Second)
	h.sched.Tick(context.Background())

	if h.pending.Len() != 0 {
		t.Errorf("pending = %d after recovery, want 0", h.pending.Len())
	}
	if got := h.archived(t); got != 1 {
		t.Errorf("archived = %d, want 1", got)
	}
	if len(h.tr.delivered) != 1 {
		t.Errorf("delivered = %d, want exactly 1", len(h.tr.delivered))
	}

	// Nothing is delivered twice.
	h.clock.advance(time.Minute)
	h.sched.Tick(context.Background())
	if len(h.tr.delivered) != 1 {
		t.Errorf("delivered = %d after idle tick, want 1", len(h.tr.delivered))
	}
}

func TestSweep_StopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	base := h.clock.now()
	if _, err := h.pending.Put([]byte("A"), base); err != nil {
		t.Fatal(err)
	}
	if _, err := h.pending.Put([]byte("B"), base.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	h.tr.setDown(true)
	h.sched.Tick(context.Background())
	if h.tr.attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (B must not be tried after A fails)", h.tr.attempts)
	}
	if h.pending.Len() != 2 {
		t.Fatalf("pending = %d, want 2", h.pending.Len())
	}

	h.tr.setDown(false)
	h.sched.Tick(context.Background())
	if len(h.tr.delivered) != 2 {
		t.Fatalf("delivered = %d, want 2", len(h.tr.delivered))
	}
	if string(h.tr.delivered[0]) != "A" || string(h.tr.delivered[1]) != "B" {
		t.Errorf("delivery order = %q, %q; want A, B", h.tr.delivered[0], h.tr.delivered[1])
	}
}

func TestTick_SkipsSweepAfterFreshFailure(t *testing.T) {
	h := newHarness(t)
	if _, err := h.pending.Put([]byte("old"), h.clock.now()); err != nil {
		t.Fatal(err)
	}
	h.buf.Append(testSegment(2))
	h.tr.setDown(true)
	h.clock.advance(30 * time.Second)

	h.sched.Tick(context.Background())

	if h.tr.attempts != 1 {
		t.Errorf("attempts = %d, want 1", h.tr.attempts)
	}
	items, err := h.pending.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("pending = %d, want 2", len(items))
	}
	if data, _ := h.pending.Load(items[0]); string(data) != "old" {
		t.Errorf("oldest pending = %q, want %q", data, "old")
	}
}

func TestRun_PersistsBufferedOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.sched.cfg.Tick = time.Hour
	h.buf.Append(testSegment(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.sched.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.tr.attempts != 0 {
		t.Errorf("attempts = %d, want no send on shutdown", h.tr.attempts)
	}
	if h.pending.Len() != 1 {
		t.Errorf("pending = %d, want 1", h.pending.Len())
	}
	if h.sched.PersistBuffered() {
		t.Error("second PersistBuffered wrote a payload")
	}
}

type thresholdClassifier struct{}

func (thresholdClassifier) IsSpeech(frame []byte, _ int) (bool, error) {
	return frame[0] != 0 || frame[1] != 0, nil
}

func TestScenario_SegmentToPayload(t *testing.T) {
	h := newHarness(t)
	seg, err := segment.New(segment.Config{
		SampleRate:    16000,
		FrameDuration: 30 * time.Millisecond,
		Padding:       90 * time.Millisecond,
	}, thresholdClassifier{}, h.buf)
	if err != nil {
		t.Fatal(err)
	}

	var seq uint64
	push := func(n int, level int16) {
		for i := 0; i < n; i++ {
			seq++
			samples := make([]int16, 480)
			for j := range samples {
				samples[j] = level
			}
			seg.Push(audio.Frame{Samples: samples, Seq: seq})
		}
	}
	push(10, 0)
	push(5, 1000)
	push(10, 0)

	h.clock.advance(30 * time.Second)
	h.sched.Tick(context.Background())

	if len(h.tr.delivered) != 1 {
		t.Fatalf("delivered = %d, want 1", len(h.tr.delivered))
	}
	samples, f, err := wavfile.Decode(h.tr.delivered[0])
	if err != nil {
		t.Fatalf("payload is not a valid wav: %v", err)
	}
	if f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("format = %+v", f)
	}
	if len(samples) != 11*480 {
		t.Fatalf("samples = %d, want %d (11 frames)", len(samples), 11*480)
	}
	if samples[3*480] != 1000 || samples[3*480-1] != 0 || samples[8*480] != 0 {
		t.Error("speech frames not at positions 3..7")
	}
}

// Package segment turns a stream of classified frames into padded utterances
// and queues them for delivery.
package segment

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"vadlink/internal/audio"
	"vadlink/internal/observe"
)

var ErrPadding = errors.New("segment: padding must cover at least one frame")

type Config struct {
	SampleRate    int
	FrameDuration time.Duration
	Padding       time.Duration
}

// PaddingFrames is the number of frames kept on each edge of an utterance.
func PaddingFrames(padding, frame time.Duration) int {
	if frame <= 0 {
		return 0
	}
	return int(padding / frame)
}

// Segment is one utterance. It is never modified once handed to a Sink.
type Segment struct {
	Frames []audio.Frame
	// Lead and Trail count the padding frames at each edge.
	Lead  int
	Trail int
}

func (s Segment) Len() int { return len(s.Frames) }

// Samples returns the concatenated PCM of all frames.
func (s Segment) Samples() []int16 {
	n := 0
	for _, f := range s.Frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range s.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Duration is the wall time spanned by the first and last frame.
func (s Segment) Duration() time.Duration {
	if len(s.Frames) == 0 {
		return 0
	}
	return s.Frames[len(s.Frames)-1].Captured.Sub(s.Frames[0].Captured)
}

type Sink interface {
	Append(Segment)
}

type EventKind int

const (
	EventSpeechStarted EventKind = iota + 1
	EventSpeechEnded
)

func (k EventKind) String() string {
	switch k {
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type Event struct {
	Kind EventKind
	At   time.Time
	// Frames is the segment length so far (started) or in total (ended).
	Frames int
}

type Option func(*Segmenter)

func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Segmenter) { s.logger = l }
}

type entry struct {
	frame audio.Frame
	n     uint64
}

// Segmenter is the Silent/Speaking state machine. It is not safe for
// concurrent use; one consumer goroutine owns it.
type Segmenter struct {
	cfg        Config
	p          int
	classifier audio.Classifier
	sink       Sink
	metrics    *observe.Metrics
	logger     *log.Logger
	observers  []func(Event)

	speaking   bool
	current    []audio.Frame
	lead       int
	silenceRun int

	// ring holds the last p frames in arrival order.
	ring []entry
	// pushed counts every frame seen; emitted is the count of the newest
	// frame placed in any segment.
	pushed  uint64
	emitted uint64
}

func New(cfg Config, classifier audio.Classifier, sink Sink, opts ...Option) (*Segmenter, error) {
	p := PaddingFrames(cfg.Padding, cfg.FrameDuration)
	if p < 1 {
		return nil, fmt.Errorf("%w: padding %v, frame %v", ErrPadding, cfg.Padding, cfg.FrameDuration)
	}
	if classifier == nil || sink == nil {
		return nil, errors.New("segment: classifier and sink are required")
	}

	s := &Segmenter{
		cfg:        cfg,
		p:          p,
		classifier: classifier,
		sink:       sink,
		ring:       make([]entry, 0, p),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s, nil
}

// PaddingFrames returns P for this segmenter.
func (s *Segmenter) PaddingFrames() int { return s.p }

// OnEvent registers fn for start and end events. Call before the first Push.
func (s *Segmenter) OnEvent(fn func(Event)) {
	s.observers = append(s.observers, fn)
}

// Open reports whether an utterance is in progress.
func (s *Segmenter) Open() bool { return s.speaking }

// Push consumes one frame in arrival order.
func (s *Segmenter) Push(f audio.Frame) {
	s.pushed++
	e := entry{frame: f, n: s.pushed}

	speech, err := s.classifier.IsSpeech(f.Bytes(), s.cfg.SampleRate)
	if err != nil {
		s.logger.Warn("Failed to classify frame", "seq", f.Seq, "err", err)
		s.metrics.ClassifyErrors.Add(context.Background(), 1)
		s.remember(e)
		return
	}

	if !s.speaking {
		if speech {
			s.start(e)
		}
		s.remember(e)
		return
	}

	s.current = append(s.current, f)
	s.emitted = e.n
	if speech {
		s.silenceRun = 0
	} else {
		s.silenceRun++
	}
	s.remember(e)

	if s.silenceRun >= s.p {
		s.close(s.silenceRun)
	}
}

// Flush closes an open utterance immediately, keeping whatever trailing
// silence has been collected so far.
func (s *Segmenter) Flush() bool {
	if !s.speaking {
		return false
	}
	s.close(s.silenceRun)
	return true
}

func (s *Segmenter) start(trigger entry) {
	s.current = make([]audio.Frame, 0, 2*s.p+1)
	for _, e := range s.ring {
		if e.n > s.emitted {
			s.current = append(s.current, e.frame)
		}
	}
	s.lead = len(s.current)
	s.current = append(s.current, trigger.frame)
	s.emitted = trigger.n
	s.speaking = true
	s.silenceRun = 0

	s.logger.Debug("Speech started", "lead", s.lead, "seq", trigger.frame.Seq)
	s.notify(Event{Kind: EventSpeechStarted, At: trigger.frame.Captured, Frames: len(s.current)})
}

func (s *Segmenter) close(trail int) {
	seg := Segment{Frames: s.current, Lead: s.lead, Trail: trail}
	s.current = nil
	s.lead = 0
	s.silenceRun = 0
	s.speaking = false

	s.sink.Append(seg)
	s.metrics.SegmentsClosed.Add(context.Background(), 1)

	last := seg.Frames[len(seg.Frames)-1]
	s.logger.Debug("Speech ended", "frames", seg.Len(), "trail", trail, "duration", seg.Duration())
	s.notify(Event{Kind: EventSpeechEnded, At: last.Captured, Frames: seg.Len()})
}

func (s *Segmenter) remember(e entry) {
	if len(s.ring) == s.p {
		copy(s.ring, s.ring[1:])
		s.ring = s.ring[:s.p-1]
	}
	s.ring = append(s.ring, e)
}

func (s *Segmenter) notify(ev Event) {
	for _, fn := range s.observers {
		fn(ev)
	}
}

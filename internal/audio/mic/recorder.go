// Package mic captures frames from the default input device through
// PortAudio.
package mic

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"vadlink/internal/audio"
)

var ErrRecording = errors.New("mic: recorder already started")

// Recorder reads mono 16-bit frames from the default input device in
// callback mode.
type Recorder struct {
	sampleRate   int
	frameSamples int

	mu     sync.Mutex
	stream *portaudio.Stream
	seq    uint64
}

func NewRecorder(sampleRate int, frame time.Duration) *Recorder {
	return &Recorder{
		sampleRate:   sampleRate,
		frameSamples: audio.FrameSamples(sampleRate, frame),
	}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Start opens the default input stream and forwards every filled buffer to
// cb as a new audio.Frame.
func (r *Recorder) Start(cb audio.Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return ErrRecording
	}

	process := func(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		samples := make([]int16, len(in))
		copy(samples, in)

		r.seq++
		cb(audio.Frame{Samples: samples, Seq: r.seq, Captured: time.Now()}, statusFromFlags(flags))
	}

	stream, err := portaudio.OpenDefaultStream(
		1, // in
		0, // no out
		float64(r.sampleRate),
		r.frameSamples,
		process,
	)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}

	r.stream = stream
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return nil
	}

	stream := r.stream
	r.stream = nil

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("stop input stream: %w", err)
	}
	return stream.Close()
}

func statusFromFlags(flags portaudio.StreamCallbackFlags) audio.CaptureStatus {
	var s audio.CaptureStatus
	if flags&portaudio.InputUnderflow != 0 {
		s |= audio.StatusInputUnderflow
	}
	if flags&portaudio.InputOverflow != 0 {
		s |= audio.StatusInputOverflow
	}
	if flags&portaudio.OutputUnderflow != 0 {
		s |= audio.StatusOutputUnderflow
	}
	if flags&portaudio.OutputOverflow != 0 {
		s |= audio.StatusOutputOverflow
	}
	if flags&portaudio.PrimingOutput != 0 {
		s |= audio.StatusPrimingOutput
	}
	return s
}

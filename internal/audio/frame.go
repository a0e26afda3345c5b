package audio

import (
	"encoding/binary"
	"time"
)

// Frame is a fixed-length block of mono 16-bit PCM as delivered by a Source.
// Frames are never modified after the source hands them out.
type Frame struct {
	Samples  []int16
	Seq      uint64
	Captured time.Time
}

// Bytes returns the little-endian PCM encoding of the frame.
func (f Frame) Bytes() []byte {
	out := make([]byte, 2*len(f.Samples))
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// CaptureStatus carries the device flags reported with a frame. Zero means a
// clean read.
type CaptureStatus uint32

const (
	StatusInputUnderflow CaptureStatus = 1 << iota
	StatusInputOverflow
	StatusOutputUnderflow
	StatusOutputOverflow
	StatusPrimingOutput
)

// Callback receives frames on the source's own goroutine. It must not block.
type Callback func(f Frame, status CaptureStatus)

// Source produces frames until stopped.
type Source interface {
	Start(cb Callback) error
	Stop() error
}

// Classifier decides whether one little-endian PCM frame contains speech.
type Classifier interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// FrameSamples returns the number of samples in a frame of length d.
func FrameSamples(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

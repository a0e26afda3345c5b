// Package wavfile wraps raw 16-bit PCM in the WAV container used for payloads
// and for every file the sender and receiver persist.
package wavfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// BitDepth is the only sample width produced and accepted.
	BitDepth = 16

	pcmFormat = 1
)

var (
	ErrEmpty   = errors.New("wavfile: no samples")
	ErrInvalid = errors.New("wavfile: invalid wav data")
)

// Format describes the PCM layout inside the container.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns how long n samples (all channels) play for.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Encode returns samples wrapped in a WAV header.
func Encode(samples []int16, f Format) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmpty
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("wavfile: bad format %+v", f)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, f.SampleRate, BitDepth, f.Channels, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}

	return out.Bytes(), nil
}

// Decode parses a WAV file and returns its samples and format.
func Decode(data []byte) ([]int16, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, ErrInvalid
	}
	if dec.BitDepth != BitDepth {
		return nil, Format{}, fmt.Errorf("%w: %d-bit samples", ErrInvalid, dec.BitDepth)
	}

	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}

	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if pb.Format != nil {
		f.SampleRate = pb.Format.SampleRate
		f.Channels = pb.Format.NumChannels
	}

	out := make([]int16, len(pb.Data))
	for i, v := range pb.Data {
		out[i] = int16(v)
	}
	return out, f, nil
}

// memFile is an in-memory io.WriteSeeker; the wav encoder seeks back to patch
// chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("wavfile: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("wavfile: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

func (m *memFile) Bytes() []byte { return m.buf }

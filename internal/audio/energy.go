package audio

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrSampleRate  = errors.New("audio: unsupported sample rate")
	ErrFrameLength = errors.New("audio: unsupported frame length")
)

// DefaultEnergyThreshold is the normalised RMS level above which a frame
// counts as speech.
const DefaultEnergyThreshold = 0.015

// EnergyClassifier is a stateless RMS threshold detector. It accepts the same
// inputs as WebRTC VAD: 8, 16, 32 or 48 kHz and 10, 20 or 30 ms frames.
type EnergyClassifier struct {
	threshold float64
}

func NewEnergyClassifier(threshold float64) *EnergyClassifier {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &EnergyClassifier{threshold: threshold}
}

func (c *EnergyClassifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	if err := ValidFrame(len(frame), sampleRate); err != nil {
		return false, err
	}
	return frameRMS(frame) > c.threshold, nil
}

// ValidFrame reports whether n bytes of 16-bit PCM at sampleRate form an
// acceptable classifier input.
func ValidFrame(n, sampleRate int) error {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("%w: %d Hz", ErrSampleRate, sampleRate)
	}

	if n == 0 || n%2 != 0 {
		return fmt.Errorf("%w: %d bytes", ErrFrameLength, n)
	}

	perMs := sampleRate / 1000
	samples := n / 2
	if samples%perMs != 0 {
		return fmt.Errorf("%w: %d samples at %d Hz", ErrFrameLength, samples, sampleRate)
	}
	switch samples / perMs {
	case 10, 20, 30:
		return nil
	}
	return fmt.Errorf("%w: %d ms", ErrFrameLength, samples/perMs)
}

func frameRMS(pcm []byte) float64 {
	var s float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		x := float64(int16(uint16(pcm[2*i])|uint16(pcm[2*i+1])<<8)) / 32768
		s += x * x
	}
	return math.Sqrt(s / float64(n))
}

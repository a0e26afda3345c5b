package delivery

import (
	"time"

	"github.com/google/uuid"

	"vadlink/internal/segment"
	"vadlink/pkg/wavfile"
)

// Payload is the WAV form of every segment drained in one flush.
type Payload struct {
	// ID tags the log lines written about this flush.
	ID       string
	Data     []byte
	Created  time.Time
	Segments int
	Frames   int
}

// BuildPayload concatenates segs in order into one mono 16-bit WAV.
func BuildPayload(segs []segment.Segment, sampleRate int, created time.Time) (Payload, error) {
	var samples []int16
	frames := 0
	for _, s := range segs {
		samples = append(samples, s.Samples()...)
		frames += s.Len()
	}

	data, err := wavfile.Encode(samples, wavfile.Format{SampleRate: sampleRate, Channels: 1})
	if err != nil {
		return Payload{}, err
	}
	return Payload{ID: uuid.NewString(), Data: data, Created: created, Segments: len(segs), Frames: frames}, nil
}

package delivery

import (
	"errors"
	"testing"
	"time"

	"vadlink/internal/segment"
	"vadlink/pkg/wavfile"
)

func TestBuildPayload(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	p, err := BuildPayload([]segment.Segment{testSegment(2), testSegment(3)}, 16000, at)
	if err != nil {
		t.Fatal(err)
	}
	if p.Segments != 2 || p.Frames != 5 || p.ID == "" || !p.Created.Equal(at) {
		t.Errorf("payload = {id:%q segments:%d frames:%d created:%v}", p.ID, p.Segments, p.Frames, p.Created)
	}

	samples, _, err := wavfile.Decode(p.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 5*480 {
		t.Errorf("samples = %d, want %d", len(samples), 5*480)
	}

	q, err := BuildPayload([]segment.Segment{testSegment(1)}, 16000, at)
	if err != nil {
		t.Fatal(err)
	}
	if q.ID == p.ID {
		t.Error("two payloads share an ID")
	}
}

func TestBuildPayload_Empty(t *testing.T) {
	if _, err := BuildPayload(nil, 16000, time.Now()); !errors.Is(err, wavfile.ErrEmpty) {
		t.Errorf("err = %v, want wavfile.ErrEmpty", err)
	}
}

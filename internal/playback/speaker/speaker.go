// Package speaker plays WAV files in process through beep.
package speaker

import (
	"fmt"
	log "log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	beepspeaker "github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// Player decodes WAV files in process and plays them through the
// default output device. Overlapping requests are mixed.
type Player struct {
	rate beep.SampleRate

	once    sync.Once
	initErr error
}

func New(rate int) *Player {
	if rate <= 0 {
		rate = 44100
	}
	return &Player{rate: beep.SampleRate(rate)}
}

func (p *Player) Play(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", path, err)
	}

	p.once.Do(func() {
		p.initErr = beepspeaker.Init(p.rate, p.rate.N(time.Second/10))
	})
	if p.initErr != nil {
		streamer.Close()
		return fmt.Errorf("init speaker: %w", p.initErr)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != p.rate {
		s = beep.Resample(4, format.SampleRate, p.rate, streamer)
	}

	beepspeaker.Play(beep.Seq(s, beep.Callback(func() {
		if err := streamer.Close(); err != nil {
			log.Debug("Failed to close played file", "path", path, "err", err)
		}
	})))
	return nil
}

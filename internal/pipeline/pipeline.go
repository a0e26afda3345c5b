// Package pipeline connects an audio source to a segmenter through a bounded
// queue so the capture callback never waits on classification.
package pipeline

import (
	"context"
	"fmt"
	log "log/slog"

	"vadlink/internal/audio"
	"vadlink/internal/observe"
	"vadlink/internal/segment"
)

const DefaultQueueSize = 256

type Pipeline struct {
	src     audio.Source
	seg     *segment.Segmenter
	queue   chan audio.Frame
	metrics *observe.Metrics
}

func New(src audio.Source, seg *segment.Segmenter, queueSize int) *Pipeline {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Pipeline{
		src:     src,
		seg:     seg,
		queue:   make(chan audio.Frame, queueSize),
		metrics: observe.DefaultMetrics(),
	}
}

// SetMetrics replaces the default instruments. Call before Run.
func (p *Pipeline) SetMetrics(m *observe.Metrics) { p.metrics = m }

// Run captures until ctx is done. Only a failure to start the source is
// returned; on exit the source is stopped and any open utterance is closed
// into the segmenter's sink.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.src.Start(p.enqueue); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	log.Info("Capture started")

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case f := <-p.queue:
			p.seg.Push(f)
		}
	}
}

func (p *Pipeline) enqueue(f audio.Frame, status audio.CaptureStatus) {
	ctx := context.Background()
	p.metrics.FramesCaptured.Add(ctx, 1)

	if status != 0 {
		log.Warn("Capture status", "seq", f.Seq, "status", fmt.Sprintf("%#x", uint32(status)))
		p.metrics.CaptureErrors.Add(ctx, 1)
	}

	select {
	case p.queue <- f:
	default:
		log.Warn("Capture queue full, dropping frame", "seq", f.Seq)
		p.metrics.FramesDropped.Add(ctx, 1)
	}
}

func (p *Pipeline) shutdown() {
	if err := p.src.Stop(); err != nil {
		log.Warn("Failed to stop capture", "err", err)
	}

	for {
		select {
		case f := <-p.queue:
			p.seg.Push(f)
		default:
			if p.seg.Flush() {
				log.Info("Closed open utterance on shutdown")
			}
			log.Info("Capture stopped")
			return
		}
	}
}

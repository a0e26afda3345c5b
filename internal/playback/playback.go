// Package playback starts local playback of received WAV files.
package playback

import (
	"fmt"
	log "log/slog"
	"os/exec"
	"runtime"
)

// Player starts playing the file at path. Implementations return once
// playback has been started, not when it ends.
type Player interface {
	Play(path string) error
}

// CommandPlayer runs the platform's command-line player.
type CommandPlayer struct {
	name string
	args []string
}

// NewCommandPlayer picks start on windows, afplay on darwin and aplay
// elsewhere.
func NewCommandPlayer() *CommandPlayer {
	switch runtime.GOOS {
	case "windows":
		return &CommandPlayer{name: "cmd", args: []string{"/c", "start", ""}}
	case "darwin":
		return &CommandPlayer{name: "afplay"}
	default:
		return &CommandPlayer{name: "aplay", args: []string{"-q"}}
	}
}

func (p *CommandPlayer) Play(path string) error {
	args := append(append([]string(nil), p.args...), path)
	cmd := exec.Command(p.name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.name, err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warn("Playback command failed", "cmd", p.name, "path", path, "err", err)
		}
	}()
	return nil
}

// Nop discards every request.
type Nop struct{}

func (Nop) Play(string) error { return nil }

// Player kinds accepted in configuration.
const (
	KindCommand = "command"
	KindSpeaker = "speaker"
	KindNone    = "none"
)

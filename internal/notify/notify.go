// Package notify tells the user the assistant is listening: a short earcon
// and a desktop or Android notification.
package notify

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	log "log/slog"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"

	"voxphone/internal/platform"
)

// Earcon is a short sound decoded once and replayed from memory.
type Earcon struct {
	buf *beep.Buffer
}

var (
	speakerOnce sync.Once
	speakerErr  error
)

func LoadEarcon(path string) (*Earcon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open earcon: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode earcon %s: %w", path, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)

	return &Earcon{buf: buf}, nil
}

// Play starts the earcon and returns right away.
func (e *Earcon) Play() error {
	speakerOnce.Do(func() {
		sr := e.buf.Format().SampleRate
		speakerErr = speaker.Init(sr, sr.N(time.Second/10))
	})
	if speakerErr != nil {
		return fmt.Errorf("init speaker: %w", speakerErr)
	}

	speaker.Play(e.buf.Streamer(0, e.buf.Len()))
	return nil
}

// Popup shows a transient notification through notify-send, or
// termux-notification on Android.
type Popup struct {
	run    platform.Runner
	termux bool
}

func NewPopup(run platform.Runner, termux bool) *Popup {
	if run == nil {
		run = platform.Exec
	}
	return &Popup{run: run, termux: termux}
}

func (p *Popup) Send(ctx context.Context, text string) error {
	var err error
	if p.termux {
		_, err = p.run(ctx, "termux-notification", "--id", "voxphone", "--title", "voxphone", "--content", text)
	} else {
		_, err = p.run(ctx, "notify-send", "--app-name=voxphone", "--expire-time=2000", "voxphone", text)
	}
	return err
}

// Cue returns a non-blocking listening cue. Either part may be nil.
func Cue(earcon *Earcon, popup *Popup, text string) func() {
	return func() {
		if earcon != nil {
			if err := earcon.Play(); err != nil {
				log.Warn("Failed to play earcon", "err", err)
			}
		}
		if popup != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := popup.Send(ctx, text); err != nil {
					log.Debug("Failed to show notification", "err", err)
				}
			}()
		}
	}
}

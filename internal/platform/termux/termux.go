// Package termux drives an Android phone through the Termux:API command set.
package termux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "log/slog"

	"golang.org/x/text/language"

	"voxphone/internal/actions"
	"voxphone/internal/platform"
	"voxphone/internal/speech"
)

const releaseTimeout = 5 * time.Second

// Device implements every device, recognizer and synthesizer interface on
// top of termux-api binaries.
type Device struct {
	run  platform.Runner
	look func(file string) (string, error)
}

func New(run platform.Runner) *Device {
	if run == nil {
		run = platform.Exec
	}
	return &Device{run: run, look: exec.LookPath}
}

func (d *Device) Devices() actions.Devices {
	return actions.Devices{
		Camera:   d,
		Vibrator: d,
		Battery:  d,
		Locator:  d,
		Opener:   d,
	}
}

// Acquire hands out the torch. termux-torch holds the camera itself, so the
// stream only tracks whether it was switched on.
func (d *Device) Acquire(context.Context) (actions.CaptureStream, error) {
	return &torchStream{run: d.run}, nil
}

type torchStream struct {
	run platform.Runner
	lit bool
}

func (s *torchStream) EnableTorch(ctx context.Context) error {
	if _, err := s.run(ctx, "termux-torch", "on"); err != nil {
		return err
	}
	s.lit = true
	return nil
}

func (s *torchStream) Release() error {
	if !s.lit {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if _, err := s.run(ctx, "termux-torch", "off"); err != nil {
		return err
	}
	s.lit = false
	return nil
}

func (d *Device) Vibrate(ctx context.Context, dur time.Duration) error {
	ms := strconv.FormatInt(dur.Milliseconds(), 10)
	_, err := d.run(ctx, "termux-vibrate", "-f", "-d", ms)
	return err
}

type batteryStatus struct {
	Percentage *float64 `json:"percentage"`
	Status     string   `json:"status"`
}

func (d *Device) Level(ctx context.Context) (float64, error) {
	out, err := d.run(ctx, "termux-battery-status")
	if err != nil {
		return 0, err
	}

	var st batteryStatus
	if err := json.Unmarshal(out, &st); err != nil {
		return 0, fmt.Errorf("parse battery status: %w", err)
	}
	if st.Percentage == nil {
		return 0, fmt.Errorf("battery status without percentage: %w", platform.ErrUnavailable)
	}

	return *st.Percentage / 100, nil
}

type location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	APIError  string   `json:"API_ERROR"`
}

func (d *Device) Locate(ctx context.Context) (actions.Position, error) {
	out, err := d.run(ctx, "termux-location", "-p", "network", "-r", "once")
	if err != nil {
		return actions.Position{}, err
	}

	// termux-location prints nothing when the permission was refused.
	if len(bytes.TrimSpace(out)) == 0 {
		return actions.Position{}, fmt.Errorf("termux-location: %w", platform.ErrPermissionDenied)
	}

	var loc location
	if err := json.Unmarshal(out, &loc); err != nil {
		return actions.Position{}, fmt.Errorf("parse location: %w", err)
	}
	if loc.APIError != "" {
		return actions.Position{}, fmt.Errorf("termux-location: %s", loc.APIError)
	}
	if loc.Latitude == nil || loc.Longitude == nil {
		return actions.Position{}, fmt.Errorf("location without coordinates: %w", platform.ErrUnavailable)
	}

	return actions.Position{Latitude: *loc.Latitude, Longitude: *loc.Longitude}, nil
}

// Open sends Android intents to the activity manager and everything else to
// termux-open-url.
func (d *Device) Open(ctx context.Context, uri string) error {
	if strings.HasPrefix(uri, "intent:") {
		_, err := d.run(ctx, "am", "start", uri)
		return err
	}
	_, err := d.run(ctx, "termux-open-url", uri)
	return err
}

// RequestPermission only checks the recognizer is installed; Termux:API asks
// for the microphone itself on first use.
func (d *Device) RequestPermission(context.Context) error {
	if _, err := d.look("termux-speech-to-text"); err != nil {
		return fmt.Errorf("termux-speech-to-text: %w", platform.ErrUnavailable)
	}
	return nil
}

// Recognize runs one recognition. Partial results come one per line; the
// last one is final. The recognizer language follows the phone settings.
func (d *Device) Recognize(ctx context.Context) (string, error) {
	out, err := d.run(ctx, "termux-speech-to-text")
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line, nil
		}
	}

	return "", nil
}

// Voices is empty: termux-tts-speak only selects by language and region.
func (d *Device) Voices(context.Context) ([]speech.Voice, error) {
	return nil, nil
}

func (d *Device) Say(ctx context.Context, text string, lang language.Tag, _ speech.Voice) error {
	var args []string

	base, _ := lang.Base()
	if base.String() != "und" {
		args = append(args, "-l", base.String())
	}
	if region, conf := lang.Region(); conf == language.Exact {
		args = append(args, "-n", region.String())
	}
	args = append(args, text)

	log.Debug("Speaking", "args", args)

	_, err := d.run(ctx, "termux-tts-speak", args...)
	return err
}

// Package linux drives a Linux phone or laptop: LEDs and power supplies from
// sysfs, URIs through xdg-open.
package linux

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "log/slog"

	"voxphone/internal/actions"
	"voxphone/internal/platform"
)

const DefaultSysfs = "/sys"

type Device struct {
	sysfs string
	run   platform.Runner
}

// New builds a device rooted at sysfs ("" means /sys).
func New(sysfs string, run platform.Runner) *Device {
	if sysfs == "" {
		sysfs = DefaultSysfs
	}
	if run == nil {
		run = platform.Exec
	}
	return &Device{sysfs: sysfs, run: run}
}

// Devices wires what this machine has. There is no vibration motor or
// location source on the Linux side.
func (d *Device) Devices() actions.Devices {
	return actions.Devices{
		Camera:  d,
		Battery: d,
		Opener:  d,
	}
}

// Acquire claims the first flash LED.
func (d *Device) Acquire(context.Context) (actions.CaptureStream, error) {
	led, err := d.findLED()
	if err != nil {
		return nil, err
	}
	log.Debug("Using flash LED", "path", led)
	return &ledStream{path: led}, nil
}

func (d *Device) findLED() (string, error) {
	entries, err := os.ReadDir(filepath.Join(d.sysfs, "class", "leds"))
	if err != nil {
		return "", fmt.Errorf("list leds: %w", platform.ErrUnavailable)
	}

	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if strings.Contains(name, "flash") || strings.Contains(name, "torch") {
			return filepath.Join(d.sysfs, "class", "leds", e.Name()), nil
		}
	}

	return "", fmt.Errorf("no flash led: %w", platform.ErrUnavailable)
}

type ledStream struct {
	path string
	lit  bool
}

func (s *ledStream) EnableTorch(context.Context) error {
	full, err := readInt(filepath.Join(s.path, "max_brightness"))
	if err != nil || full <= 0 {
		full = 1
	}

	if err := writeSysfs(filepath.Join(s.path, "brightness"), full); err != nil {
		return err
	}
	s.lit = true
	return nil
}

func (s *ledStream) Release() error {
	if !s.lit {
		return nil
	}
	if err := writeSysfs(filepath.Join(s.path, "brightness"), 0); err != nil {
		return err
	}
	s.lit = false
	return nil
}

// Level reads the first battery-type power supply.
func (d *Device) Level(context.Context) (float64, error) {
	dir := filepath.Join(d.sysfs, "class", "power_supply")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("list power supplies: %w", platform.ErrUnavailable)
	}

	for _, e := range entries {
		supply := filepath.Join(dir, e.Name())

		kind, err := os.ReadFile(filepath.Join(supply, "type"))
		if err != nil || strings.TrimSpace(string(kind)) != "Battery" {
			continue
		}

		return batteryLevel(supply)
	}

	return 0, fmt.Errorf("no battery: %w", platform.ErrUnavailable)
}

func batteryLevel(supply string) (float64, error) {
	if pct, err := readInt(filepath.Join(supply, "capacity")); err == nil {
		return float64(pct) / 100, nil
	}

	for _, pair := range [][2]string{
		{"energy_now", "energy_full"},
		{"charge_now", "charge_full"},
	} {
		now, err := readInt(filepath.Join(supply, pair[0]))
		if err != nil {
			continue
		}
		full, err := readInt(filepath.Join(supply, pair[1]))
		if err != nil || full <= 0 {
			continue
		}
		return min(float64(now)/float64(full), 1), nil
	}

	return 0, fmt.Errorf("%s reports no level: %w", filepath.Base(supply), platform.ErrUnavailable)
}

func (d *Device) Open(ctx context.Context, uri string) error {
	_, err := d.run(ctx, "xdg-open", uri)
	return err
}

func readInt(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
}

func writeSysfs(path string, v int64) error {
	err := os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0o644)
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("write %s: %w", path, platform.ErrPermissionDenied)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

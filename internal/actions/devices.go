package actions

import (
	"context"
	"fmt"
	"time"
)

// Camera hands out capture streams from the rear camera.
type Camera interface {
	Acquire(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is an acquired camera stream. Release stops its tracks.
type CaptureStream interface {
	EnableTorch(ctx context.Context) error
	Release() error
}

type Vibrator interface {
	Vibrate(ctx context.Context, d time.Duration) error
}

// BatteryMeter reports the charge level as a fraction in [0, 1].
type BatteryMeter interface {
	Level(ctx context.Context) (float64, error)
}

type Position struct {
	Latitude  float64
	Longitude float64
}

// MapURL points a browser at p.
func (p Position) MapURL() string {
	return fmt.Sprintf("https://www.google.com/maps?q=%f,%f", p.Latitude, p.Longitude)
}

type Locator interface {
	Locate(ctx context.Context) (Position, error)
}

// Opener launches a URI (web page, app scheme, Android intent).
type Opener interface {
	Open(ctx context.Context, uri string) error
}

// Devices is the platform side of the registry. Nil members are capabilities
// the platform does not have.
type Devices struct {
	Camera   Camera
	Vibrator Vibrator
	Battery  BatteryMeter
	Locator  Locator
	Opener   Opener
}

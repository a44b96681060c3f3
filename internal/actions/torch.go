package actions

import (
	"context"
	"fmt"
	"sync"

	"voxphone/internal/platform"
)

// Torch owns the single capture stream used to drive the flashlight.
type Torch struct {
	mu     sync.Mutex
	camera Camera
	stream CaptureStream
}

func NewTorch(camera Camera) *Torch {
	return &Torch{camera: camera}
}

// On releases any held stream, then acquires a fresh one and lights it.
// A stream whose torch cannot be enabled is released before returning.
func (t *Torch) On(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.releaseLocked(); err != nil {
		return fmt.Errorf("release previous stream: %w", err)
	}

	if t.camera == nil {
		return platform.ErrUnavailable
	}

	stream, err := t.camera.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire camera: %w", err)
	}

	if err := stream.EnableTorch(ctx); err != nil {
		_ = stream.Release()
		return fmt.Errorf("enable torch: %w", err)
	}

	t.stream = stream

	return nil
}

// Off releases the held stream. Without one it does nothing.
func (t *Torch) Off() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.releaseLocked()
}

func (t *Torch) held() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stream != nil
}

func (t *Torch) releaseLocked() error {
	if t.stream == nil {
		return nil
	}

	s := t.stream
	t.stream = nil

	return s.Release()
}

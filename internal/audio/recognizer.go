package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	log "log/slog"

	"voxphone/internal/platform"
	"voxphone/pkg/audioconv"
	"voxphone/pkg/stt"
)

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (stt.Result, error)
}

const (
	duckFactor = 0.2
	duckFade   = 150 * time.Millisecond
)

// MicRecognizer records from the microphone and transcribes with whisper.
type MicRecognizer struct {
	rec    *Recorder
	stt    Transcriber
	ducker *Ducker
}

// NewMicRecognizer builds a recognizer. ducker may be nil.
func NewMicRecognizer(rec *Recorder, tr Transcriber, ducker *Ducker) *MicRecognizer {
	return &MicRecognizer{rec: rec, stt: tr, ducker: ducker}
}

func (m *MicRecognizer) RequestPermission(context.Context) error {
	return m.rec.Available()
}

func (m *MicRecognizer) Recognize(ctx context.Context) (string, error) {
	if m.ducker != nil {
		if err := m.ducker.Duck(ctx, duckFactor, duckFade); err != nil {
			log.Warn("Failed to duck other streams", "err", err)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := m.ducker.Restore(rctx, duckFade); err != nil {
				log.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}

	pcm, err := m.rec.Record(ctx)
	if err != nil {
		return "", fmt.Errorf("record: %w", err)
	}

	log.Debug("Recorded", "samples", len(pcm))

	return transcribe(ctx, m.stt, pcm)
}

// FileRecognizer transcribes the same audio file on every session. It stands
// in for a microphone on machines without one.
type FileRecognizer struct {
	path string
	stt  Transcriber
}

func NewFileRecognizer(path string, tr Transcriber) *FileRecognizer {
	return &FileRecognizer{path: path, stt: tr}
}

func (f *FileRecognizer) RequestPermission(context.Context) error {
	_, err := os.Stat(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w", f.path, platform.ErrUnavailable)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s: %w", f.path, platform.ErrPermissionDenied)
	default:
		return err
	}
}

func (f *FileRecognizer) Recognize(ctx context.Context) (string, error) {
	pcm, err := audioconv.DecodeFile(ctx, f.path, audioconv.Options{})
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", f.path, err)
	}
	return transcribe(ctx, f.stt, pcm)
}

func transcribe(ctx context.Context, tr Transcriber, pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	start := time.Now()
	res, err := tr.Transcribe(ctx, pcm)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	log.Info("Transcribed", "text", res.Text, "lang", res.Language, "took", time.Since(start))
	return res.Text, nil
}

package audio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"

	"voxphone/internal/platform"
	"voxphone/pkg/stt"
)

// Recorder captures one spoken utterance from the default microphone and
// stops on trailing silence.
type Recorder struct {
	FrameSize  int           // samples per read, 320 = 20ms
	SilenceRMS float64       // frames below this are silence
	Hangover   time.Duration // trailing silence that ends the utterance
	LeadIn     time.Duration // how long to wait for speech to begin
	MaxLength  time.Duration
}

func NewRecorder() *Recorder {
	return &Recorder{
		FrameSize:  320,
		SilenceRMS: 0.015,
		Hangover:   800 * time.Millisecond,
		LeadIn:     6 * time.Second,
		MaxLength:  15 * time.Second,
	}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() error {
	return portaudio.Terminate()
}

// Available checks there is something to record from.
func (r *Recorder) Available() error {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		return fmt.Errorf("no input device: %w", platform.ErrUnavailable)
	}
	return nil
}

// Record returns mono samples at stt.SampleRate. It returns nil samples when
// nobody spoke within LeadIn, and stops early when ctx is done.
func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	buf := make([]float32, r.FrameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(stt.SampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	ep := r.endpointer()
	out := make([]float32, 0, stt.SampleRate*3)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("read input stream: %w", err)
		}

		keep, done := ep.push(buf)
		if keep {
			out = append(out, buf...)
		}
		if done {
			break
		}
	}

	if !ep.heard {
		return nil, nil
	}
	return out, nil
}

func (r *Recorder) endpointer() *endpointer {
	frame := time.Duration(r.FrameSize) * time.Second / time.Duration(stt.SampleRate)
	return &endpointer{
		threshold: r.SilenceRMS,
		hang:      frames(r.Hangover, frame),
		wait:      frames(r.LeadIn, frame),
		limit:     frames(r.MaxLength, frame),
	}
}

func frames(d, frame time.Duration) int {
	return max(1, int(d/frame))
}

// endpointer decides, frame by frame, what belongs to the utterance and when
// it is over.
type endpointer struct {
	threshold float64
	hang      int
	wait      int
	limit     int

	heard  bool
	silent int
	seen   int
}

func (e *endpointer) push(frame []float32) (keep, done bool) {
	e.seen++
	limit := e.seen >= e.limit

	if frameRMS(frame) > e.threshold {
		e.heard = true
		e.silent = 0
		return true, limit
	}

	if !e.heard {
		return false, limit || e.seen >= e.wait
	}

	e.silent++
	return true, limit || e.silent >= e.hang
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(f)))
}

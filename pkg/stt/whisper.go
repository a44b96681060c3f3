// Package stt transcribes 16 kHz mono PCM with whisper.cpp.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// SampleRate is the only rate whisper accepts.
const SampleRate = 16000

type Options struct {
	Language string // "bn", "en" ... or "auto"
	Threads  int    // <=0 => NumCPU()
	Prompt   string // initial prompt, biases vocabulary
	BeamSize int    // 0 = greedy
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

// Transcriber owns one loaded model. Calls are serialized: a whisper model
// runs one context at a time here.
type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
	opt   Options
}

func NewTranscriber(modelPath string, opt Options) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}

	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	if opt.Language == "" {
		opt.Language = "auto"
	}
	if opt.Language != "auto" && !slices.Contains(m.Languages(), opt.Language) {
		_ = m.Close()
		return nil, fmt.Errorf("model %s does not support language %q", modelPath, opt.Language)
	}
	if opt.Threads <= 0 {
		opt.Threads = runtime.NumCPU()
	}

	return &Transcriber{model: m, opt: opt}, nil
}

func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}

// Transcribe runs the model over pcm (mono, SampleRate, [-1, 1]). Cancelling
// ctx aborts before the encoder starts or between segments.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []float32) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, errors.New("no audio samples provided")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return Result{}, errors.New("transcriber closed")
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}

	if err := wctx.SetLanguage(t.opt.Language); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(false)
	wctx.SetThreads(uint(t.opt.Threads))
	if t.opt.BeamSize > 0 {
		wctx.SetBeamSize(t.opt.BeamSize)
	}
	if t.opt.Prompt != "" {
		wctx.SetInitialPrompt(t.opt.Prompt)
	}

	proceed := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(pcm, proceed, nil, nil); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		segs  []Segment
		texts []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}

		text := strings.TrimSpace(s.Text)
		segs = append(segs, Segment{
			Text:     text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		if text != "" && !isNoise(text) {
			texts = append(texts, text)
		}
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return Result{
		Text:     strings.Join(texts, " "),
		Segments: segs,
		Language: lang,
	}, nil
}

// isNoise reports whisper's non-speech markers like "[BLANK_AUDIO]" or
// "(wind blowing)".
func isNoise(text string) bool {
	return (strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]")) ||
		(strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")"))
}

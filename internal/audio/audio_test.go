package audio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxphone/internal/platform"
	"voxphone/pkg/stt"
)

const pactlOutput = `Sink Input #42
	Driver: protocol-native.c
	Volume: front-left: 52428 /  80% / -5.81 dB,   front-right: 52428 /  80% / -5.81 dB
	Properties:
		application.name = "Firefox"
		media.name = "Playback"
Sink Input #43
	Volume: mono: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "voxphone"
Sink Input #oops
	Volume: mono: 65536 / 100% / 0.00 dB
`

func TestParseSinkInputs(t *testing.T) {
	assert.Equal(t, []sinkInput{
		{ID: 42, Volume: 80, AppName: "Firefox"},
		{ID: 43, Volume: 100, AppName: "voxphone"},
	}, parseSinkInputs(pactlOutput))

	assert.Empty(t, parseSinkInputs(""))
}

type pactl struct {
	sets []string
}

func (p *pactl) run(_ context.Context, name string, args ...string) ([]byte, error) {
	if args[0] == "list" {
		return []byte(pactlOutput), nil
	}
	p.sets = append(p.sets, strings.Join(args[1:], " "))
	return nil, nil
}

func TestDuckerSkipsOwnStreams(t *testing.T) {
	p := &pactl{}
	d := NewDucker(p.run, []string{"voxphone"}, 10)

	require.NoError(t, d.Duck(context.Background(), 0.2, 0))
	require.NoError(t, d.Duck(context.Background(), 0.2, 0))
	assert.Equal(t, []string{"42 16%"}, p.sets)

	p.sets = nil
	require.NoError(t, d.Restore(context.Background(), 0))
	require.NoError(t, d.Restore(context.Background(), 0))
	assert.Equal(t, []string{"42 80%"}, p.sets)
}

func TestDuckerFloor(t *testing.T) {
	p := &pactl{}
	require.NoError(t, NewDucker(p.run, nil, 50).Duck(context.Background(), 0.1, 0))
	assert.Equal(t, []string{"42 50%", "43 50%"}, p.sets)
}

func TestEndpointer(t *testing.T) {
	loud := []float32{0.5, -0.5, 0.5, -0.5}
	quiet := []float32{0, 0.001, 0, -0.001}

	t.Run("utterance then silence", func(t *testing.T) {
		ep := &endpointer{threshold: 0.015, hang: 2, wait: 10, limit: 100}

		keep, done := ep.push(quiet)
		assert.False(t, keep)
		assert.False(t, done)

		keep, done = ep.push(loud)
		assert.True(t, keep)
		assert.False(t, done)

		keep, done = ep.push(quiet)
		assert.True(t, keep)
		assert.False(t, done)

		_, done = ep.push(quiet)
		assert.True(t, done)
		assert.True(t, ep.heard)
	})

	t.Run("nobody speaks", func(t *testing.T) {
		ep := &endpointer{threshold: 0.015, hang: 2, wait: 3, limit: 100}
		ep.push(quiet)
		ep.push(quiet)
		_, done := ep.push(quiet)
		assert.True(t, done)
		assert.False(t, ep.heard)
	})

	t.Run("length limit", func(t *testing.T) {
		ep := &endpointer{threshold: 0.015, hang: 2, wait: 3, limit: 2}
		ep.push(loud)
		keep, done := ep.push(loud)
		assert.True(t, keep)
		assert.True(t, done)
	})
}

func TestRecorderEndpointerFrames(t *testing.T) {
	r := NewRecorder()
	ep := r.endpointer()

	assert.Equal(t, 40, ep.hang)
	assert.Equal(t, 300, ep.wait)
	assert.Equal(t, 750, ep.limit)
}

type fakeTranscriber struct {
	got []float32
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []float32) (stt.Result, error) {
	f.got = pcm
	return stt.Result{Text: "battery please", Language: "en"}, nil
}

func TestFileRecognizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.wav")

	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, stt.SampleRate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Data:           make([]int, 1600),
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: stt.SampleRate},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	tr := &fakeTranscriber{}
	rec := NewFileRecognizer(path, tr)

	require.NoError(t, rec.RequestPermission(context.Background()))

	text, err := rec.Recognize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "battery please", text)
	assert.Len(t, tr.got, 1600)
}

func TestFileRecognizerMissingFile(t *testing.T) {
	rec := NewFileRecognizer(filepath.Join(t.TempDir(), "nope.wav"), &fakeTranscriber{})
	assert.ErrorIs(t, rec.RequestPermission(context.Background()), platform.ErrUnavailable)
}

func TestTranscribeSkipsSilence(t *testing.T) {
	tr := &fakeTranscriber{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	text, err := transcribe(ctx, tr, nil)
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Nil(t, tr.got)
}

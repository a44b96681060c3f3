// Package audioconv decodes recorded speech files into the 16 kHz mono
// float samples the transcriber expects.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const TargetRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	MaxSamples int // 0 = no limit
}

type decoder func(r io.ReadSeeker) ([]float32, int, error)

var byExt = map[string]decoder{
	".wav":  decodeWAV,
	".mp3":  decodeMP3,
	".ogg":  decodeOgg,
	".oga":  decodeOgg,
	".opus": decodeOpus,
}

// DecodeFile picks a decoder by extension, falling back to the file magic.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, ok := byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		dec, err = sniff(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return decode(ctx, f, dec, opt)
}

// Decode sniffs the format of r.
func Decode(ctx context.Context, r io.ReadSeeker, opt Options) ([]float32, error) {
	dec, err := sniff(r)
	if err != nil {
		return nil, err
	}
	return decode(ctx, r, dec, opt)
}

func decode(ctx context.Context, r io.ReadSeeker, dec decoder, opt Options) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x, rate, err := dec(r)
	if err != nil {
		return nil, err
	}

	x = resampleLinear(x, rate, TargetRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x, nil
}

func sniff(r io.ReadSeeker) (decoder, error) {
	magic, _ := bufio.NewReader(r).Peek(4)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch {
	case string(magic) == "RIFF":
		return decodeWAV, nil
	case string(magic) == "OggS":
		return decodeOgg, nil
	case len(magic) >= 3 && (string(magic[:3]) == "ID3" || magic[0] == 0xFF && magic[1]&0xE0 == 0xE0):
		return decodeMP3, nil
	default:
		return nil, ErrUnsupported
	}
}

func decodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav")
	}

	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("read wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, 0, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	x := intsToFloat32(pb.Data, depth)

	channels, rate := 1, int(dec.SampleRate)
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			channels = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			rate = pb.Format.SampleRate
		}
	}
	if rate <= 0 {
		rate = 44100
	}

	return downmix(x, channels), rate, nil
}

func decodeMP3(r io.ReadSeeker) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read mp3: %w", err)
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, 0, fmt.Errorf("read mp3: %w", err)
	}

	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, ints); err != nil {
		return nil, 0, err
	}

	// go-mp3 always produces interleaved stereo.
	x := downmix(int16sToFloat32(ints), 2)

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	return x, rate, nil
}

// decodeOgg tries Vorbis first; voice notes from phones are usually Opus.
func decodeOgg(r io.ReadSeeker) ([]float32, int, error) {
	x, rate, verr := decodeVorbis(r)
	if verr == nil {
		return x, rate, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}

	x, rate, oerr := decodeOpus(r)
	if oerr != nil {
		return nil, 0, fmt.Errorf("ogg is neither vorbis (%v) nor opus (%w)", verr, oerr)
	}
	return x, rate, nil
}

func decodeVorbis(r io.ReadSeeker) ([]float32, int, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, 0, errors.New("invalid ogg/vorbis stream")
	}
	return downmix(pcm, format.Channels), format.SampleRate, nil
}

func decodeOpus(r io.ReadSeeker) ([]float32, int, error) {
	const opusRate = 48000

	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, 0, err
	}
	defer dec.Destroy()

	channels := max(dec.ChannelCount(), 1)

	var (
		pcm []float32
		buf = make([]int16, opusRate*channels/2)
	)
	for {
		n, err := dec.Read(buf) // samples per channel
		if n > 0 {
			pcm = append(pcm, int16sToFloat32(buf[:n*channels])...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}

	if len(pcm) == 0 {
		return nil, 0, errors.New("empty opus stream")
	}
	return downmix(pcm, channels), opusRate, nil
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(max(-1, min(1, float64(v)*scale)))
	}
	return out
}

func int16sToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// downmix averages interleaved frames into mono.
func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	n := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, n)
	for i := range n {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}

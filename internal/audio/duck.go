package audio

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"voxphone/internal/platform"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

const maxVolume = 150

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id   int
	from int
	to   int
}

// Ducker lowers every other PulseAudio stream while the microphone is open
// so music does not end up in the transcript. Streams whose
// application.name is in selfNames are left alone.
type Ducker struct {
	run platform.Runner

	mu        sync.Mutex
	active    bool
	selfNames []string
	saved     map[int]int // sink input id -> volume before ducking
	floor     int
}

func NewDucker(run platform.Runner, selfNames []string, floor int) *Ducker {
	if run == nil {
		run = platform.Exec
	}
	return &Ducker{
		run:       run,
		selfNames: append([]string(nil), selfNames...),
		saved:     make(map[int]int),
		floor:     min(max(floor, 0), maxVolume),
	}
}

// Duck fades other streams to factor of their volume, never below the floor.
func (d *Ducker) Duck(ctx context.Context, factor float64, over time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.saved = make(map[int]int)

	var fades []fade
	for _, in := range inputs {
		to := int(math.Round(float64(in.Volume) * factor))
		to = min(max(to, d.floor), maxVolume)

		d.saved[in.ID] = in.Volume
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: to})
	}

	if err := d.fade(ctx, fades, over); err != nil {
		return err
	}

	d.active = true
	return nil
}

// Restore fades ducked streams back. Streams that appeared since Duck are
// not touched.
func (d *Ducker) Restore(ctx context.Context, over time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, in := range inputs {
		if orig, ok := d.saved[in.ID]; ok {
			fades = append(fades, fade{id: in.ID, from: in.Volume, to: orig})
		}
	}

	if err := d.fade(ctx, fades, over); err != nil {
		return err
	}

	d.saved = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "pactl", "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("list sink inputs: %w", err)
	}

	var others []sinkInput
	for _, in := range parseSinkInputs(string(out)) {
		if !d.isSelf(in) {
			others = append(others, in)
		}
	}
	return others, nil
}

func (d *Ducker) isSelf(in sinkInput) bool {
	for _, name := range d.selfNames {
		if in.AppName == name {
			return true
		}
	}
	return false
}

// fade steps every stream linearly from its start to its target volume.
func (d *Ducker) fade(ctx context.Context, fades []fade, over time.Duration) error {
	if len(fades) == 0 {
		return nil
	}

	const step = 10 * time.Millisecond

	steps := max(1, int(over/step))
	if over <= 0 {
		steps = 0
	}

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := 1.0
		if steps > 0 {
			frac = float64(i) / float64(steps)
		}

		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.setVolume(ctx, f.id, v); err != nil {
				return err
			}
		}

		if i < steps {
			time.Sleep(over / time.Duration(steps))
		}
	}

	return nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = min(max(percent, 0), maxVolume)

	_, err := d.run(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent))
	if err != nil {
		return fmt.Errorf("set volume of sink input %d: %w", id, err)
	}
	return nil
}

// parseSinkInputs reads `pactl list sink-inputs` output.
func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")

	var res []sinkInput
	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			switch {
			case strings.HasPrefix(line, "Volume:") && in.Volume == 0:
				if m := percentRe.FindStringSubmatch(line); m != nil {
					in.Volume, _ = strconv.Atoi(m[1])
				}

			case strings.HasPrefix(line, "application.name =") && in.AppName == "":
				_, value, _ := strings.Cut(line, "=")
				in.AppName = strings.Trim(strings.TrimSpace(value), `"`)
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}

	return res
}

package termux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"voxphone/internal/platform"
	"voxphone/internal/speech"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	output map[string]string
	errs   map[string]error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return []byte(f.output[name]), nil
}

func (f *fakeRunner) commands() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, strings.TrimSpace(c.name+" "+strings.Join(c.args, " ")))
	}
	return out
}

func newDevice(f *fakeRunner) *Device {
	d := New(f.run)
	d.look = func(string) (string, error) { return "/data/data/com.termux/files/usr/bin/termux-speech-to-text", nil }
	return d
}

func TestTorch(t *testing.T) {
	f := &fakeRunner{}
	d := newDevice(f)

	stream, err := d.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.Release())
	require.NoError(t, stream.EnableTorch(context.Background()))
	require.NoError(t, stream.Release())
	require.NoError(t, stream.Release())

	assert.Equal(t, []string{"termux-torch on", "termux-torch off"}, f.commands())
}

func TestTorchFailure(t *testing.T) {
	f := &fakeRunner{errs: map[string]error{"termux-torch": errors.New("no flash unit")}}
	stream, err := newDevice(f).Acquire(context.Background())
	require.NoError(t, err)

	assert.Error(t, stream.EnableTorch(context.Background()))
	assert.NoError(t, stream.Release())
}

func TestVibrate(t *testing.T) {
	f := &fakeRunner{}
	require.NoError(t, newDevice(f).Vibrate(context.Background(), 750*time.Millisecond))
	assert.Equal(t, []string{"termux-vibrate -f -d 750"}, f.commands())
}

func TestBatteryLevel(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		err     error
		want    float64
		wantErr error
	}{
		{name: "charging", output: `{"health":"GOOD","percentage":87,"plugged":"PLUGGED_AC","status":"CHARGING"}`, want: 0.87},
		{name: "no percentage", output: `{"status":"UNKNOWN"}`, wantErr: platform.ErrUnavailable},
		{name: "missing binary", err: platform.ErrUnavailable, wantErr: platform.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRunner{
				output: map[string]string{"termux-battery-status": tt.output},
				errs:   map[string]error{"termux-battery-status": tt.err},
			}

			level, err := newDevice(f).Level(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, level, 1e-9)
		})
	}

	_, err := newDevice(&fakeRunner{output: map[string]string{"termux-battery-status": "not json"}}).Level(context.Background())
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	f := &fakeRunner{output: map[string]string{
		"termux-location": `{"latitude":23.8103,"longitude":90.4125,"altitude":10.0,"accuracy":20.0,"provider":"network"}`,
	}}

	pos, err := newDevice(f).Locate(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 23.8103, pos.Latitude, 1e-9)
	assert.InDelta(t, 90.4125, pos.Longitude, 1e-9)
	assert.Equal(t, []string{"termux-location -p network -r once"}, f.commands())
}

func TestLocateFailures(t *testing.T) {
	denied := &fakeRunner{output: map[string]string{"termux-location": "\n"}}
	_, err := newDevice(denied).Locate(context.Background())
	assert.ErrorIs(t, err, platform.ErrPermissionDenied)

	apiErr := &fakeRunner{output: map[string]string{"termux-location": `{"API_ERROR":"Location provider disabled"}`}}
	_, err = newDevice(apiErr).Locate(context.Background())
	assert.ErrorContains(t, err, "Location provider disabled")
}

func TestOpen(t *testing.T) {
	f := &fakeRunner{}
	d := newDevice(f)

	require.NoError(t, d.Open(context.Background(), "whatsapp://send"))
	require.NoError(t, d.Open(context.Background(), "intent://#Intent;action=android.settings.SETTINGS;end"))

	assert.Equal(t, []string{
		"termux-open-url whatsapp://send",
		"am start intent://#Intent;action=android.settings.SETTINGS;end",
	}, f.commands())
}

func TestRecognize(t *testing.T) {
	f := &fakeRunner{output: map[string]string{"termux-speech-to-text": "torch\ntorch on\n\n"}}
	d := newDevice(f)

	require.NoError(t, d.RequestPermission(context.Background()))

	text, err := d.Recognize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "torch on", text)

	f.output["termux-speech-to-text"] = "   \n"
	text, err = d.Recognize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestRequestPermissionWithoutRecognizer(t *testing.T) {
	d := New((&fakeRunner{}).run)
	d.look = func(file string) (string, error) { return "", errors.New("not found") }

	assert.ErrorIs(t, d.RequestPermission(context.Background()), platform.ErrUnavailable)
}

func TestSay(t *testing.T) {
	f := &fakeRunner{}
	d := newDevice(f)

	voices, err := d.Voices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, voices)

	require.NoError(t, d.Say(context.Background(), "হ্যালো", language.MustParse("bn-BD"), speech.Voice{}))
	require.NoError(t, d.Say(context.Background(), "hello", language.English, speech.Voice{}))

	require.Len(t, f.calls, 2)
	assert.Equal(t, []string{"-l", "bn", "-n", "BD", "হ্যালো"}, f.calls[0].args)
	assert.Equal(t, []string{"-l", "en", "hello"}, f.calls[1].args)
}

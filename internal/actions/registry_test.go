package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxphone/internal/phrases"
	"voxphone/internal/platform"
)

type fakeStream struct {
	torchErr error
	released int
}

func (s *fakeStream) EnableTorch(context.Context) error { return s.torchErr }
func (s *fakeStream) Release() error                    { s.released++; return nil }

type fakeCamera struct {
	err     error
	streams []*fakeStream
	torch   error
}

func (c *fakeCamera) Acquire(context.Context) (CaptureStream, error) {
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeStream{torchErr: c.torch}
	c.streams = append(c.streams, s)
	return s, nil
}

type fakeVibrator struct{ got time.Duration }

func (v *fakeVibrator) Vibrate(_ context.Context, d time.Duration) error { v.got = d; return nil }

type fakeBattery struct {
	level float64
	err   error
	block bool
}

func (b fakeBattery) Level(ctx context.Context) (float64, error) {
	if b.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return b.level, b.err
}

type fakeLocator struct {
	pos Position
	err error
}

func (l fakeLocator) Locate(context.Context) (Position, error) { return l.pos, l.err }

type fakeOpener struct {
	opened []string
	err    error
}

func (o *fakeOpener) Open(_ context.Context, uri string) error {
	o.opened = append(o.opened, uri)
	return o.err
}

func english(t *testing.T) *phrases.Book {
	t.Helper()
	b, err := phrases.New("en")
	require.NoError(t, err)
	return b
}

func TestHandlersNeverReturnEmpty(t *testing.T) {
	ctx := context.Background()
	requests := []Request{
		Flashlight{On: true}, Flashlight{On: false}, Vibrate{Duration: time.Second},
		CheckBattery{}, GetLocation{}, OpenApp{App: "whatsapp"}, OpenApp{App: ""},
		Unknown{Action: "launch_rocket"},
	}

	registries := map[string]*Registry{
		"no devices": NewRegistry(english(t), Devices{}),
		"all failing": NewRegistry(english(t), Devices{
			Camera:  &fakeCamera{err: platform.ErrPermissionDenied},
			Battery: fakeBattery{err: errors.New("boom")},
			Locator: fakeLocator{err: platform.ErrPermissionDenied},
		}),
		"all working": NewRegistry(english(t), Devices{
			Camera:   &fakeCamera{},
			Vibrator: &fakeVibrator{},
			Battery:  fakeBattery{level: 0.5},
			Locator:  fakeLocator{pos: Position{Latitude: 1, Longitude: 2}},
			Opener:   &fakeOpener{},
		}),
	}

	for name, reg := range registries {
		for _, req := range requests {
			assert.NotEmpty(t, reg.Execute(ctx, req), "%s: %s", name, req.Name())
		}
	}
}

func TestFlashlight(t *testing.T) {
	ctx := context.Background()
	cam := &fakeCamera{}
	reg := NewRegistry(english(t), Devices{Camera: cam})

	assert.Equal(t, "The flashlight is on.", reg.Execute(ctx, Flashlight{On: true}))
	require.Len(t, cam.streams, 1)
	assert.True(t, reg.torch.held())

	// a second "on" releases the first stream before reusing the slot
	reg.Execute(ctx, Flashlight{On: true})
	require.Len(t, cam.streams, 2)
	assert.Equal(t, 1, cam.streams[0].released)
	assert.Equal(t, 0, cam.streams[1].released)

	assert.Equal(t, "The flashlight is off.", reg.Execute(ctx, Flashlight{On: false}))
	assert.Equal(t, 1, cam.streams[1].released)
	assert.False(t, reg.torch.held())
}

func TestFlashlightOffWithoutStream(t *testing.T) {
	reg := NewRegistry(english(t), Devices{})
	assert.Equal(t, "The flashlight is off.", reg.Execute(context.Background(), Flashlight{On: false}))
}

func TestFlashlightWithoutTorchCapability(t *testing.T) {
	cam := &fakeCamera{torch: errors.New("no torch constraint")}
	reg := NewRegistry(english(t), Devices{Camera: cam})

	got := reg.Execute(context.Background(), Flashlight{On: true})

	assert.Equal(t, "Sorry, your phone's hardware does not support the flashlight.", got)
	require.Len(t, cam.streams, 1)
	assert.Equal(t, 1, cam.streams[0].released)
	assert.False(t, reg.torch.held())
}

func TestCloseReleasesStream(t *testing.T) {
	cam := &fakeCamera{}
	reg := NewRegistry(english(t), Devices{Camera: cam})
	reg.Execute(context.Background(), Flashlight{On: true})

	require.NoError(t, reg.Close())
	assert.Equal(t, 1, cam.streams[0].released)
	require.NoError(t, reg.Close())
}

func TestVibrate(t *testing.T) {
	vib := &fakeVibrator{}
	reg := NewRegistry(english(t), Devices{Vibrator: vib})

	assert.Equal(t, "Vibrating the phone.", reg.Execute(context.Background(), Decode(Call{Name: VibrateAction})))
	assert.Equal(t, 500*time.Millisecond, vib.got)

	none := NewRegistry(english(t), Devices{})
	assert.Equal(t, "Your phone does not support vibration.", none.Execute(context.Background(), Vibrate{Duration: time.Second}))
}

func TestCheckBattery(t *testing.T) {
	reg := NewRegistry(english(t), Devices{Battery: fakeBattery{level: 0.866}})
	assert.Equal(t, "Your battery level is 87 percent.", reg.Execute(context.Background(), CheckBattery{}))

	none := NewRegistry(english(t), Devices{})
	assert.Equal(t, "I cannot check the battery status.", none.Execute(context.Background(), CheckBattery{}))
}

func TestCheckBatteryDoesNotHang(t *testing.T) {
	reg := NewRegistry(english(t), Devices{Battery: fakeBattery{block: true}}, WithBatteryTimeout(20*time.Millisecond))

	done := make(chan string, 1)
	go func() { done <- reg.Execute(context.Background(), CheckBattery{}) }()

	select {
	case got := <-done:
		assert.Equal(t, "I cannot check the battery status.", got)
	case <-time.After(2 * time.Second):
		t.Fatal("battery check blocked")
	}
}

func TestGetLocation(t *testing.T) {
	opener := &fakeOpener{}
	reg := NewRegistry(english(t), Devices{
		Locator: fakeLocator{pos: Position{Latitude: 23.81, Longitude: 90.41}},
		Opener:  opener,
	})

	assert.Equal(t, "I have opened your current location on the map.", reg.Execute(context.Background(), GetLocation{}))
	require.Len(t, opener.opened, 1)
	assert.Contains(t, opener.opened[0], "https://www.google.com/maps?q=23.81")

	denied := NewRegistry(english(t), Devices{Locator: fakeLocator{err: platform.ErrPermissionDenied}, Opener: opener})
	assert.Equal(t, "I cannot get permission to read your location.", denied.Execute(context.Background(), GetLocation{}))
	assert.Len(t, opener.opened, 1)
}

func TestGetLocationWithoutMap(t *testing.T) {
	found := fakeLocator{pos: Position{Latitude: 23.81, Longitude: 90.41}}

	noOpener := NewRegistry(english(t), Devices{Locator: found})
	assert.Equal(t, "I found your location but could not open the map.", noOpener.Execute(context.Background(), GetLocation{}))

	broken := &fakeOpener{err: errors.New("no browser")}
	failing := NewRegistry(english(t), Devices{Locator: found, Opener: broken})
	assert.Equal(t, "I found your location but could not open the map.", failing.Execute(context.Background(), GetLocation{}))
	assert.Len(t, broken.opened, 1)
}

func TestOpenAppIsCaseInsensitive(t *testing.T) {
	upper, lower := &fakeOpener{}, &fakeOpener{}
	a := NewRegistry(english(t), Devices{Opener: upper}).Execute(context.Background(), OpenApp{App: "WhatsApp"})
	b := NewRegistry(english(t), Devices{Opener: lower}).Execute(context.Background(), OpenApp{App: "whatsapp"})

	assert.Equal(t, upper.opened, lower.opened)
	assert.Equal(t, []string{"whatsapp://send"}, upper.opened)
	assert.Contains(t, a, "WhatsApp")
	assert.Contains(t, b, "whatsapp")
}

func TestOpenUnknownApp(t *testing.T) {
	opener := &fakeOpener{}
	reg := NewRegistry(english(t), Devices{Opener: opener})

	got := reg.Execute(context.Background(), OpenApp{App: "Spotify"})

	assert.Equal(t, "Sorry, I cannot open Spotify directly.", got)
	assert.Empty(t, opener.opened)
}

func TestOpenAppOverrides(t *testing.T) {
	opener := &fakeOpener{}
	reg := NewRegistry(english(t), Devices{Opener: opener}, WithApps(map[string]string{
		"Spotify":  "spotify://",
		"facebook": "",
	}))

	reg.Execute(context.Background(), OpenApp{App: "spotify"})
	assert.Equal(t, "Sorry, I cannot open Facebook directly.", reg.Execute(context.Background(), OpenApp{App: "Facebook"}))
	assert.Equal(t, []string{"spotify://"}, opener.opened)
}

type panickyVibrator struct{}

func (panickyVibrator) Vibrate(context.Context, time.Duration) error { panic("driver bug") }

func TestExecuteRecoversFromPanics(t *testing.T) {
	reg := NewRegistry(english(t), Devices{Vibrator: panickyVibrator{}})
	assert.Equal(t, "Sorry, I cannot do that.", reg.Execute(context.Background(), Vibrate{Duration: time.Second}))
}

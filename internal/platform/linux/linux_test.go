package linux

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxphone/internal/platform"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestTorchLED(t *testing.T) {
	root := t.TempDir()
	led := filepath.Join(root, "class", "leds", "white:flash")
	writeFile(t, filepath.Join(root, "class", "leds", "red:status", "brightness"), "0")
	writeFile(t, filepath.Join(led, "max_brightness"), "255\n")
	writeFile(t, filepath.Join(led, "brightness"), "0")

	d := New(root, nil)

	stream, err := d.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.EnableTorch(context.Background()))
	assert.Equal(t, "255", readFile(t, filepath.Join(led, "brightness")))

	require.NoError(t, stream.Release())
	assert.Equal(t, "0", readFile(t, filepath.Join(led, "brightness")))
}

func TestTorchMissing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "class", "leds", "input0::capslock", "brightness"), "0")

	_, err := New(root, nil).Acquire(context.Background())
	assert.ErrorIs(t, err, platform.ErrUnavailable)

	_, err = New(t.TempDir(), nil).Acquire(context.Background())
	assert.ErrorIs(t, err, platform.ErrUnavailable)
}

func TestBatteryLevel(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  float64
	}{
		{
			name:  "capacity",
			files: map[string]string{"type": "Battery\n", "capacity": "87\n"},
			want:  0.87,
		},
		{
			name:  "energy",
			files: map[string]string{"type": "Battery", "energy_now": "30000000", "energy_full": "40000000"},
			want:  0.75,
		},
		{
			name:  "charge",
			files: map[string]string{"type": "Battery", "charge_now": "2100000", "charge_full": "2000000"},
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, filepath.Join(root, "class", "power_supply", "AC", "type"), "Mains")
			for name, content := range tt.files {
				writeFile(t, filepath.Join(root, "class", "power_supply", "BAT0", name), content)
			}

			level, err := New(root, nil).Level(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, level, 1e-9)
		})
	}
}

func TestBatteryMissing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "class", "power_supply", "AC", "type"), "Mains")

	_, err := New(root, nil).Level(context.Background())
	assert.ErrorIs(t, err, platform.ErrUnavailable)

	writeFile(t, filepath.Join(root, "class", "power_supply", "BAT0", "type"), "Battery")
	_, err = New(root, nil).Level(context.Background())
	assert.ErrorIs(t, err, platform.ErrUnavailable)
}

func TestOpenUsesXdgOpen(t *testing.T) {
	var got []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		got = append([]string{name}, args...)
		return nil, nil
	}

	require.NoError(t, New("", run).Open(context.Background(), "https://youtube.com"))
	assert.Equal(t, []string{"xdg-open", "https://youtube.com"}, got)
}

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestDisabled(t *testing.T) {
	before := otel.GetTracerProvider()

	p, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Same(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestEnabled(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	p, err := NewProvider(context.Background(), Config{Endpoint: "127.0.0.1:4318", Insecure: true})
	require.NoError(t, err)

	assert.True(t, p.Enabled())
	assert.NotSame(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()), "nothing recorded, nothing to flush")
}

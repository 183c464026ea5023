package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/miradorstack/mirador-fleetsim/internal/config"
)

func TestSetupTracingDisabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupTracing(config.TracingConfig{}, "test", &buf)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Zero(t, buf.Len())
}

func TestSetupTracingExportsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := SetupTracing(config.TracingConfig{Enabled: true, ServiceName: "fleet-sim"}, "test", &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("fleetsim.test").Start(context.Background(), "simulation.tick")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "simulation.tick")
	assert.Contains(t, buf.String(), "fleet-sim")
}

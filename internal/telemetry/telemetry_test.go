package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSetupExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(domain.TracingConfig{Enabled: true, ServiceName: "kestrel-test"}, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "score-invoice")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "score-invoice")
	assert.Contains(t, buf.String(), "kestrel-test")
}

func TestSetupDisabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(domain.TracingConfig{}, &buf)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Empty(t, buf.String())
}

func TestSetupInstallsPropagator(t *testing.T) {
	_, err := Setup(domain.TracingConfig{}, nil)
	require.NoError(t, err)

	carrier := propagation.MapCarrier{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)

	out := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, out)
	assert.Contains(t, out["traceparent"], "4bf92f3577b34da6a3ce929d0e0e4736")
}

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

func TestInitNoneExporterIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitStdoutExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Exporter: ExporterStdout, ServiceName: "cryophile-test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitOTLPRequiresEndpoint(t *testing.T) {
	_, err := Init(context.Background(), Config{Exporter: ExporterOTLP})
	require.Error(t, err)
	require.Equal(t, cryoerr.KindInvalidInput, cryoerr.KindOf(err))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Exporter: "bogus"})
	require.Error(t, err)
}

func TestTracerReturnsNonNil(t *testing.T) {
	require.NotNil(t, Tracer("cryophile/test"))
}

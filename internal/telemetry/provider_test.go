package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{ServiceName: "datagate-test", SampleRatio: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address: nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), Options{
		ServiceName: "datagate-test",
		Endpoint:    "http://192.0.2.1:4318",
		SampleRatio: 0.5,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_RejectsSampleRatioOutOfRange(t *testing.T) {
	for _, ratio := range []float64{-0.1, 1.5} {
		_, err := Setup(context.Background(), Options{Endpoint: "http://192.0.2.1:4318", SampleRatio: ratio})
		assert.ErrorContains(t, err, "sample ratio")
	}
}

func TestNewSampler(t *testing.T) {
	s, err := newSampler(1)
	require.NoError(t, err)
	assert.Contains(t, s.Description(), "AlwaysOnSampler")

	s, err = newSampler(0.25)
	require.NoError(t, err)
	assert.Contains(t, s.Description(), "TraceIDRatioBased{0.25}")
}

package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"loanledger/config"
)

func TestParseHeaders(t *testing.T) {
	require.Equal(t, map[string]string{"a": "1", "b": "two"}, ParseHeaders(" a=1, b = two ,broken,=x"))
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutSignals(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "loand"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestFromNodeConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Headers = "x-api-key=secret"
	cfg.Telemetry.Traces = true
	out := FromNodeConfig("loand", cfg, 9)
	require.Equal(t, "loand", out.ServiceName)
	require.Equal(t, uint64(9), out.ChainID)
	require.True(t, out.Traces)
	require.Equal(t, "secret", out.Headers["x-api-key"])
}

func TestShutdownStackReversesAndKeepsFirstError(t *testing.T) {
	var order []int
	first := errors.New("first")
	stack := shutdownStack{
		func(context.Context) error { order = append(order, 1); return errors.New("later") },
		func(context.Context) error { order = append(order, 2); return first },
	}
	require.ErrorIs(t, stack.shutdown(context.Background()), first)
	require.Equal(t, []int{2, 1}, order)
}

func TestSamplerDescription(t *testing.T) {
	require.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

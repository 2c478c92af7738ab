package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightswarm/internal/serialmux"
)

func TestClamp(t *testing.T) {
	tests := []struct{ in, want int }{
		{-3, 0},
		{0, 0},
		{512, 512},
		{MaxReading, MaxReading},
		{5000, MaxReading},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSerialSource(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewSerialSource(mux)
	src.Start(ctx)
	go mux.Monitor(ctx)

	_, err := src.Sample(ctx)
	require.ErrorIs(t, err, ErrNoSample)

	port.AddReadData([]byte("# adc ready\n300\nbogus\nA=2000\n"))

	require.Eventually(t, func() bool { return src.Samples() == 2 }, 2*time.Second, 5*time.Millisecond)

	got, err := src.Sample(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxReading, got, "over-range samples are clamped")
}

func TestSerialSourceCancelledContext(t *testing.T) {
	src := NewSerialSource(serialmux.NewDisabledSerialMux())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScriptedSource(t *testing.T) {
	boom := errors.New("adc fault")
	src := NewScriptedSteps(Step{Reading: 10}, Step{Err: boom}, Step{Reading: 30})
	ctx := context.Background()

	v, err := src.Sample(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = src.Sample(ctx)
	assert.ErrorIs(t, err, boom)

	for i := 0; i < 3; i++ {
		v, err = src.Sample(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 30, v, "last step repeats")
	}
	assert.Equal(t, 5, src.Calls())

	src.Set(77)
	v, _ = src.Sample(ctx)
	assert.Equal(t, 77, v)
}

func TestScriptedSourceEmpty(t *testing.T) {
	_, err := NewScriptedSource().Sample(context.Background())
	assert.ErrorIs(t, err, ErrNoSample)
}

func TestNoiseSourceStaysBounded(t *testing.T) {
	src := NewNoiseSource(42, 1000, 50)
	prev := 1000
	for i := 0; i < 500; i++ {
		v, err := src.Sample(context.Background())
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, 0)
		require.LessOrEqual(t, v, MaxReading)
		diff := v - prev
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(t, diff, 50)
		prev = v
	}
}

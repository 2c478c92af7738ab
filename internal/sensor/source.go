// Package sensor provides the ambient light signal a swarm node samples once
// per round.
package sensor

import (
	"context"
	"errors"
)

// MaxReading is the top of the sensor board's ADC scale.
const MaxReading = 1024

// ErrNoSample is returned before the first sample has arrived from the board.
var ErrNoSample = errors.New("sensor: no sample received yet")

// Source yields one non-negative reading per call.
type Source interface {
	Sample(ctx context.Context) (int, error)
}

// Clamp bounds v to [0, MaxReading].
func Clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxReading {
		return MaxReading
	}
	return v
}

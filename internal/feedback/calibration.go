// Package feedback drives the node's visual indicators: a blink rate that
// rises with the local reading, shown on an indicator channel at all times
// and on a leader channel while the node is the active reporter.
package feedback

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Point pairs a reading with the blink interval it should produce.
type Point struct {
	Reading  int           `json:"reading"`
	Interval time.Duration `json:"interval"`
}

var (
	// DefaultLow and DefaultHigh reproduce the bench calibration of the
	// photoresistor boards: dim rooms blink about every two seconds, full
	// scale blinks every 10ms.
	DefaultLow  = Point{Reading: 24, Interval: 2010 * time.Millisecond}
	DefaultHigh = Point{Reading: 1024, Interval: 10 * time.Millisecond}
)

const (
	DefaultMinInterval = 5 * time.Millisecond
	DefaultMaxInterval = 2058 * time.Millisecond
)

var (
	ErrDegenerate    = errors.New("calibration needs at least two distinct readings")
	ErrPositiveSlope = errors.New("calibration interval must not grow with reading")
	ErrBounds        = errors.New("calibration bounds invalid")
)

// Calibration maps a reading to a blink interval along a fitted line, clamped
// to [min, max].
type Calibration struct {
	slope     float64 // ms per reading unit
	intercept float64 // ms at reading 0
	min, max  time.Duration
}

// NewCalibration fits a least-squares line through points. With exactly two
// points this is the line through both.
func NewCalibration(points []Point, min, max time.Duration) (*Calibration, error) {
	if min <= 0 || max < min {
		return nil, fmt.Errorf("%w: min %v max %v", ErrBounds, min, max)
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	distinct := map[int]struct{}{}
	for i, p := range points {
		xs[i] = float64(p.Reading)
		ys[i] = float64(p.Interval) / float64(time.Millisecond)
		distinct[p.Reading] = struct{}{}
	}
	if len(distinct) < 2 {
		return nil, ErrDegenerate
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	if beta > 0 {
		return nil, fmt.Errorf("%w: slope %.4f ms/unit", ErrPositiveSlope, beta)
	}
	return &Calibration{slope: beta, intercept: alpha, min: min, max: max}, nil
}

// DefaultCalibration returns the board calibration with default bounds.
func DefaultCalibration() *Calibration {
	c, err := NewCalibration([]Point{DefaultLow, DefaultHigh}, DefaultMinInterval, DefaultMaxInterval)
	if err != nil {
		panic(err)
	}
	return c
}

// Interval returns the blink half-period for reading. The result is
// non-increasing in reading.
func (c *Calibration) Interval(reading int) time.Duration {
	ms := c.slope*float64(reading) + c.intercept
	d := time.Duration(math.Round(ms*1000)) * time.Microsecond
	if d < c.min {
		return c.min
	}
	if d > c.max {
		return c.max
	}
	return d
}

// Slope returns the fitted slope in milliseconds per reading unit.
func (c *Calibration) Slope() float64 { return c.slope }

// Intercept returns the fitted interval at reading zero, unclamped.
func (c *Calibration) Intercept() time.Duration {
	return time.Duration(math.Round(c.intercept*1000)) * time.Microsecond
}

package feedback

import (
	"time"

	"github.com/banshee-data/lightswarm/internal/monitoring"
)

// Output is a single on/off actuator channel.
type Output interface {
	Set(on bool) error
}

// Blinker toggles an Output at a rate derived from the current reading. It is
// polled from the scheduler loop rather than owning a timer.
type Blinker struct {
	out  Output
	cal  *Calibration
	logf func(format string, v ...interface{})

	on         bool
	dirty      bool // output state not yet confirmed written
	lastToggle time.Time
}

func NewBlinker(out Output, cal *Calibration) *Blinker {
	return &Blinker{
		out:   out,
		cal:   cal,
		logf:  monitoring.Prefixed("feedback"),
		dirty: true,
	}
}

// Tick toggles the output once the interval for reading has elapsed since the
// last toggle, and reports whether it toggled. The first tick after
// construction or Off toggles immediately.
func (b *Blinker) Tick(now time.Time, reading int) bool {
	if !b.lastToggle.IsZero() && now.Sub(b.lastToggle) < b.cal.Interval(reading) {
		return false
	}
	b.lastToggle = now
	b.set(!b.on)
	return true
}

// Off forces the output off and restarts the blink phase.
func (b *Blinker) Off() {
	b.lastToggle = time.Time{}
	if b.on || b.dirty {
		b.set(false)
	}
}

// On reports the last state written to the output.
func (b *Blinker) On() bool { return b.on }

func (b *Blinker) set(on bool) {
	b.on = on
	if err := b.out.Set(on); err != nil {
		b.dirty = true
		b.logf("output write failed: %v", err)
		return
	}
	b.dirty = false
}

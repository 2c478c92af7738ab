package feedback

import (
	"sync"

	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/serialmux"
)

// LogOutput logs state changes; used when no LED board is attached.
type LogOutput struct {
	Name string
}

func (l LogOutput) Set(on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	monitoring.Logf("[feedback] %s %s", l.Name, state)
	return nil
}

// SerialOutput drives one LED channel on the sensor board.
type SerialOutput struct {
	mux     serialmux.SerialMuxInterface
	channel string
}

func NewSerialOutput(mux serialmux.SerialMuxInterface, channel string) *SerialOutput {
	return &SerialOutput{mux: mux, channel: channel}
}

func (s *SerialOutput) Set(on bool) error {
	return s.mux.SendCommand(serialmux.LEDCommand(s.channel, on))
}

// Recorder captures every Set call for tests.
type Recorder struct {
	mu     sync.Mutex
	states []bool
	Err    error
}

func (r *Recorder) Set(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.states = append(r.states, on)
	return nil
}

// States returns a copy of the recorded writes.
func (r *Recorder) States() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

// On reports the most recent write, false if none.
func (r *Recorder) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states) > 0 && r.states[len(r.states)-1]
}

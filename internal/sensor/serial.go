package sensor

import (
	"context"
	"sync"

	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/serialmux"
)

// SerialSource serves the most recent sample streamed by the sensor board.
// The board pushes samples faster than rounds run, so Sample never blocks on
// the port.
type SerialSource struct {
	mux  serialmux.SerialMuxInterface
	logf func(format string, v ...interface{})

	mu     sync.Mutex
	latest int
	have   bool
	lines  int
}

func NewSerialSource(mux serialmux.SerialMuxInterface) *SerialSource {
	return &SerialSource{
		mux:  mux,
		logf: monitoring.Prefixed("sensor"),
	}
}

// Start subscribes to the board and consumes lines until ctx is cancelled or
// the mux closes the subscription.
func (s *SerialSource) Start(ctx context.Context) {
	id, c := s.mux.Subscribe()
	go func() {
		defer s.mux.Unsubscribe(id)
		for {
			select {
			case payload, ok := <-c:
				if !ok {
					s.logf("board stream closed")
					return
				}
				s.handleLine(payload)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *SerialSource) handleLine(payload string) {
	switch serialmux.ClassifyPayload(payload) {
	case serialmux.EventTypeSample:
		v, _ := serialmux.ParseSample(payload)
		s.mu.Lock()
		s.latest = Clamp(v)
		s.have = true
		s.lines++
		s.mu.Unlock()
	case serialmux.EventTypeLog:
		s.logf("board: %s", payload)
	case serialmux.EventTypeButton:
		// node boards have no use for the button
	default:
		s.logf("ignoring unrecognised board line %q", payload)
	}
}

func (s *SerialSource) Sample(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.have {
		return 0, ErrNoSample
	}
	return s.latest, nil
}

// Samples returns how many sample lines have been accepted.
func (s *SerialSource) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

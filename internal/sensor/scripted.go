package sensor

import (
	"context"
	"math/rand/v2"
	"sync"
)

// Step is one scripted sample: a reading, or an error to return instead.
type Step struct {
	Reading int
	Err     error
}

// ScriptedSource replays a fixed sequence and then repeats its last step.
type ScriptedSource struct {
	mu    sync.Mutex
	steps []Step
	pos   int
	calls int
}

// NewScriptedSource returns a source yielding readings in order.
func NewScriptedSource(readings ...int) *ScriptedSource {
	steps := make([]Step, len(readings))
	for i, r := range readings {
		steps[i] = Step{Reading: r}
	}
	return &ScriptedSource{steps: steps}
}

// NewScriptedSteps allows failures to be interleaved with readings.
func NewScriptedSteps(steps ...Step) *ScriptedSource {
	return &ScriptedSource{steps: append([]Step(nil), steps...)}
}

func (s *ScriptedSource) Sample(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		return 0, ErrNoSample
	}
	st := s.steps[s.pos]
	if s.pos < len(s.steps)-1 {
		s.pos++
	}
	return st.Reading, st.Err
}

// Set replaces the script with a single constant reading.
func (s *ScriptedSource) Set(reading int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = []Step{{Reading: reading}}
	s.pos = 0
}

// Calls reports how many times Sample was invoked.
func (s *ScriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// NoiseSource is a bounded random walk used when a node runs without a board.
type NoiseSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	current int
	stride  int
}

// NewNoiseSource starts the walk at start; each sample moves at most stride.
func NewNoiseSource(seed uint64, start, stride int) *NoiseSource {
	if stride <= 0 {
		stride = 1
	}
	return &NoiseSource{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		current: Clamp(start),
		stride:  stride,
	}
}

func (n *NoiseSource) Sample(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = Clamp(n.current + n.rng.IntN(2*n.stride+1) - n.stride)
	return n.current, nil
}

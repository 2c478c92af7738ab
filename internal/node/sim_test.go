package node

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightswarm/internal/feedback"
	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/network"
	"github.com/banshee-data/lightswarm/internal/protocol"
	"github.com/banshee-data/lightswarm/internal/sensor"
	"github.com/banshee-data/lightswarm/internal/swarm"
	"github.com/banshee-data/lightswarm/internal/timeutil"
)

type simNode struct {
	node   *Node
	ep     *network.Endpoint
	source *sensor.ScriptedSource
}

// runSwarm steps every node once per simulated millisecond, in a shuffled
// order so no node wins every silence window by position alone.
func runSwarm(t *testing.T, clock *timeutil.MockClock, nodes []*simNode, d time.Duration, rng *rand.Rand) {
	t.Helper()
	end := clock.Now().Add(d)
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	for clock.Now().Before(end) {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, i := range order {
			require.NoError(t, nodes[i].node.Step(context.Background()))
		}
		clock.Advance(time.Millisecond)
	}
}

func newSwarm(t *testing.T, hub *network.Hub, clock *timeutil.MockClock, readings map[int]int) []*simNode {
	t.Helper()
	var out []*simNode
	for id := 0; id < protocol.DefaultCapacity; id++ {
		r, ok := readings[id]
		if !ok {
			continue
		}
		ip := fmt.Sprintf("10.1.0.%d", 20+id)
		sn := &simNode{ep: hub.Join(ip), source: sensor.NewScriptedSource(r)}
		n, err := New(DefaultConfig(), Deps{
			Transport: sn.ep,
			Source:    sn.source,
			Feedback:  feedback.NewDriver(&feedback.Recorder{}, &feedback.Recorder{}, feedback.DefaultCalibration()),
			Clock:     clock,
			Addr:      net.ParseIP(ip),
		})
		require.NoError(t, err)
		require.Equal(t, id, n.ID())
		sn.node = n
		out = append(out, sn)
	}
	return out
}

func leaders(nodes []*simNode) []int {
	var ids []int
	for _, sn := range nodes {
		if sn.node.Leader() {
			ids = append(ids, sn.node.ID())
		}
	}
	return ids
}

func TestSwarmConvergesToSingleLeader(t *testing.T) {
	monitoring.SetLogger(nil)
	hub := network.NewHub()
	clock := timeutil.NewMockClock(t0)
	rng := rand.New(rand.NewPCG(1, 2))

	nodes := newSwarm(t, hub, clock, map[int]int{1: 300, 4: 850, 6: 120, 8: 600})
	runSwarm(t, clock, nodes, 30*time.Second, rng)

	assert.Equal(t, []int{4}, leaders(nodes))
	for _, sn := range nodes {
		if sn.node.ID() == 4 {
			assert.Equal(t, swarm.Unknown, sn.node.Table()[4], "own slot must stay unknown")
			continue
		}
		assert.Equal(t, 850, sn.node.Table()[4], "node %d has not heard the brightest peer", sn.node.ID())
	}

	// the swarm follows when the light moves
	nodes[0].source.Set(1000)
	runSwarm(t, clock, nodes, 30*time.Second, rng)
	assert.Equal(t, []int{1}, leaders(nodes))
}

func TestSwarmResetThenReconverges(t *testing.T) {
	monitoring.SetLogger(nil)
	hub := network.NewHub()
	clock := timeutil.NewMockClock(t0)
	rng := rand.New(rand.NewPCG(7, 11))

	nodes := newSwarm(t, hub, clock, map[int]int{2: 400, 3: 700, 5: 100})
	runSwarm(t, clock, nodes, 20*time.Second, rng)
	require.Equal(t, []int{3}, leaders(nodes))

	collector := hub.Join("10.1.0.250")
	require.NoError(t, collector.Broadcast([]byte("+++RESET_REQUESTED***")))
	for _, sn := range nodes {
		// a peer reading from the last tick may still be queued ahead of the reset
		for i := 0; i < 4 && !sn.node.Quiescent(); i++ {
			require.NoError(t, sn.node.Step(context.Background()))
		}
		require.True(t, sn.node.Quiescent())
		require.True(t, sn.node.Leader())
	}

	hub.ResetLog()
	runSwarm(t, clock, nodes, DefaultQuiescencePeriod-time.Millisecond, rng)
	for _, sn := range nodes {
		assert.Empty(t, hub.TransmissionsFrom(sn.ep.LocalAddr()), "node %d spoke while quiescent", sn.node.ID())
	}

	runSwarm(t, clock, nodes, 20*time.Second, rng)
	assert.Equal(t, []int{3}, leaders(nodes))
}

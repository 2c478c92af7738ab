package node

import (
	"time"

	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/swarm"
)

// HandleIncomingReset returns the node to its start-up state and enters
// quiescence. Until now+QuiescencePeriod every step discards inbound traffic
// and neither samples nor broadcasts. The last reading is kept; it is
// replaced by the first round after quiescence.
func (n *Node) HandleIncomingReset(now time.Time) {
	n.fb.Suppress()
	n.leader = true
	n.prevLeader = true
	n.table.ClearAll()

	// the address has not changed, so neither has the id
	if id, err := swarm.DeriveID(n.addr, n.cfg.Capacity); err == nil {
		n.id = id
	}

	n.lastActivity = now
	n.quiescent = true
	n.quietUntil = now.Add(n.cfg.QuiescencePeriod)

	monitoring.ResetsReceived.Inc()
	monitoring.IsLeader.Set(1)
	monitoring.KnownPeers.Set(0)
	n.logf("reset requested, quiet until %s", n.quietUntil.Format(time.RFC3339Nano))
}

package capture

import (
	"sort"
	"time"

	"github.com/banshee-data/lightswarm/internal/protocol"
)

// NodeSummary aggregates the traffic of one sender.
type NodeSummary struct {
	Addr          string
	SwarmID       int // -1 until the sender broadcasts a reading
	Rounds        int
	LeaderReports int
	Resets        int
	Malformed     int
	LastReading   int
	First, Last   time.Time
}

// Summary decodes captured payloads and tallies them per sender.
type Summary struct {
	codec *protocol.Codec
	nodes map[string]*NodeSummary
}

func NewSummary(capacity int) *Summary {
	return &Summary{
		codec: protocol.NewCodec(capacity),
		nodes: make(map[string]*NodeSummary),
	}
}

// Add decodes p and counts it against its sender. The decode error, if any,
// is returned after the packet has been counted as malformed.
func (s *Summary) Add(p Packet) (protocol.Message, error) {
	addr := "unknown"
	if p.Src != nil {
		addr = p.Src.String()
	}
	n, ok := s.nodes[addr]
	if !ok {
		n = &NodeSummary{Addr: addr, SwarmID: -1, First: p.Timestamp}
		s.nodes[addr] = n
	}
	n.Last = p.Timestamp

	msg, err := s.codec.Decode(p.Payload)
	if err != nil {
		n.Malformed++
		return nil, err
	}
	switch m := msg.(type) {
	case protocol.PeerReading:
		n.Rounds++
		n.SwarmID = m.ID
		n.LastReading = m.Reading
	case protocol.LeaderReport:
		n.LeaderReports++
		n.SwarmID = m.ID
		n.LastReading = m.Reading
	case protocol.ResetCommand:
		n.Resets++
	}
	return msg, nil
}

// Nodes returns the per-sender tallies ordered by address.
func (s *Summary) Nodes() []NodeSummary {
	out := make([]NodeSummary, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

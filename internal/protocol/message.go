package protocol

import "fmt"

// Kind identifies one of the three message types carried on the wire.
type Kind uint8

const (
	KindPeerReading Kind = iota + 1
	KindLeaderReport
	KindResetCommand
)

func (k Kind) String() string {
	switch k {
	case KindPeerReading:
		return "peer_reading"
	case KindLeaderReport:
		return "leader_report"
	case KindResetCommand:
		return "reset_command"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is implemented by PeerReading, LeaderReport and ResetCommand.
type Message interface {
	Kind() Kind
}

// PeerReading is broadcast by every node once per round.
type PeerReading struct {
	ID      int
	Reading int
}

// LeaderReport is broadcast by a node that resolved itself leader for the
// round; only the collector acts on it.
type LeaderReport struct {
	ID      int
	Reading int
}

// ResetCommand is issued by the collector to re-synchronise the swarm.
type ResetCommand struct{}

func (PeerReading) Kind() Kind  { return KindPeerReading }
func (LeaderReport) Kind() Kind { return KindLeaderReport }
func (ResetCommand) Kind() Kind { return KindResetCommand }

func (m PeerReading) String() string {
	return fmt.Sprintf("PeerReading{id=%d reading=%d}", m.ID, m.Reading)
}

func (m LeaderReport) String() string {
	return fmt.Sprintf("LeaderReport{id=%d reading=%d}", m.ID, m.Reading)
}

func (ResetCommand) String() string { return "ResetCommand{}" }

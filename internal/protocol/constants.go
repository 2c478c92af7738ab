package protocol

// Wire constants shared by swarm nodes and the collector. All higher layers
// should depend on this file rather than repeating marker strings.
const (
	// DefaultPort is the well-known UDP port every node and the collector bind.
	DefaultPort = 4210

	// DefaultCapacity is N, the size of the identifier space [0, N).
	DefaultCapacity = 10

	// MaxPacketSize caps a frame on the wire. Datagrams are never fragmented
	// by the protocol, so anything larger is rejected on both sides.
	MaxPacketSize = 255

	// Peer class markers frame node-to-node readings.
	PeerStart = "~~~"
	PeerEnd   = "---"

	// Control class markers frame leader reports and reset commands.
	ControlStart = "+++"
	ControlEnd   = "***"

	leaderTag = "Master"
	resetBody = "RESET_REQUESTED"
)

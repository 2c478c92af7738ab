// Package network carries swarm datagrams: a UDP broadcast transport for real
// deployments and an in-memory hub that stands in for a shared LAN in tests
// and simulations.
package network

import (
	"context"
	"errors"
	"net"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Datagram is one received payload and its sender.
type Datagram struct {
	Payload []byte
	From    net.Addr
}

// Transport is the node's view of the broadcast medium. Poll never blocks for
// longer than a short read deadline and yields at most one datagram.
type Transport interface {
	Broadcast(payload []byte) error
	Poll() (Datagram, bool, error)
	LocalAddr() net.Addr
	Close() error
}

// Receiver is implemented by transports that can also block for the next
// datagram, which the collector uses in its receive loop.
type Receiver interface {
	Transport
	Receive(ctx context.Context) (Datagram, error)
}

package network

import (
	"context"
	"net"
	"sync"

	"github.com/banshee-data/lightswarm/internal/protocol"
)

// DefaultQueueDepth bounds each endpoint's receive queue; overflow is dropped
// the way a full socket buffer would drop it.
const DefaultQueueDepth = 64

// Transmission is one broadcast seen by the hub.
type Transmission struct {
	From    string
	Payload string
}

// Hub is an in-memory broadcast domain. Every datagram sent by one endpoint is
// queued for every other endpoint; senders never hear themselves.
type Hub struct {
	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}
	log       []Transmission
	depth     int
	dropped   int
}

func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[*Endpoint]struct{}),
		depth:     DefaultQueueDepth,
	}
}

// Join attaches an endpoint addressed ip:DefaultPort.
func (h *Hub) Join(ip string) *Endpoint {
	ep := &Endpoint{
		hub:   h,
		addr:  &net.UDPAddr{IP: net.ParseIP(ip), Port: protocol.DefaultPort},
		queue: make(chan Datagram, h.depth),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.endpoints[ep] = struct{}{}
	h.mu.Unlock()
	return ep
}

// Transmissions returns every broadcast in send order.
func (h *Hub) Transmissions() []Transmission {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Transmission(nil), h.log...)
}

// TransmissionsFrom filters Transmissions by sender address.
func (h *Hub) TransmissionsFrom(addr net.Addr) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, tx := range h.log {
		if tx.From == addr.String() {
			out = append(out, tx.Payload)
		}
	}
	return out
}

// ResetLog forgets recorded transmissions.
func (h *Hub) ResetLog() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = nil
}

// Dropped reports datagrams lost to full queues.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) deliver(from *Endpoint, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, Transmission{From: from.addr.String(), Payload: string(payload)})
	for ep := range h.endpoints {
		if ep == from {
			continue
		}
		d := Datagram{Payload: append([]byte(nil), payload...), From: from.addr}
		select {
		case ep.queue <- d:
		default:
			h.dropped++
		}
	}
}

func (h *Hub) leave(ep *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, ep)
}

// Endpoint is one participant's Transport on a Hub.
type Endpoint struct {
	hub   *Hub
	addr  *net.UDPAddr
	queue chan Datagram
	done  chan struct{} // closed by Close

	mu     sync.Mutex
	closed bool
}

func (e *Endpoint) Broadcast(payload []byte) error {
	if e.isClosed() {
		return ErrClosed
	}
	e.hub.deliver(e, payload)
	return nil
}

func (e *Endpoint) Poll() (Datagram, bool, error) {
	if e.isClosed() {
		return Datagram{}, false, ErrClosed
	}
	select {
	case d := <-e.queue:
		return d, true, nil
	default:
		return Datagram{}, false, nil
	}
}

func (e *Endpoint) Receive(ctx context.Context) (Datagram, error) {
	if e.isClosed() {
		return Datagram{}, ErrClosed
	}
	select {
	case d := <-e.queue:
		return d, nil
	case <-e.done:
		return Datagram{}, ErrClosed
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

// Pending reports queued, unread datagrams.
func (e *Endpoint) Pending() int { return len(e.queue) }

func (e *Endpoint) LocalAddr() net.Addr { return e.addr }

func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.done)
	e.hub.leave(e)
	return nil
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/protocol"
)

const (
	DefaultBroadcastIP = "255.255.255.255"
	DefaultPollTimeout = time.Millisecond
	receiveSlice       = 250 * time.Millisecond
)

// UDPConfig selects the socket a transport binds and where it broadcasts.
type UDPConfig struct {
	// ListenAddr is the local bind address, e.g. ":4210".
	ListenAddr string
	// BroadcastAddr is the destination of every Broadcast, e.g.
	// "255.255.255.255:4210".
	BroadcastAddr string
	// Interface, when set, drops datagrams that arrived on other interfaces.
	Interface string
	// TTL for outgoing datagrams; broadcasts never leave the link anyway.
	TTL int
	// PollTimeout bounds how long Poll waits for a datagram.
	PollTimeout time.Duration
}

// DefaultUDPConfig returns the swarm defaults for port.
func DefaultUDPConfig(port int) UDPConfig {
	return UDPConfig{
		ListenAddr:    fmt.Sprintf(":%d", port),
		BroadcastAddr: net.JoinHostPort(DefaultBroadcastIP, fmt.Sprint(port)),
		TTL:           1,
		PollTimeout:   DefaultPollTimeout,
	}
}

// UDPTransport broadcasts and receives swarm datagrams on a UDP socket.
// Datagrams whose source is this socket (our own broadcast looped back) are
// dropped before they reach the caller.
type UDPTransport struct {
	conn    net.PacketConn
	pc      *ipv4.PacketConn
	dst     *net.UDPAddr
	ifIndex int
	local   *net.UDPAddr
	selfIPs map[string]struct{}
	poll    time.Duration
	logf    func(format string, v ...interface{})

	readMu sync.Mutex
	buf    []byte
}

// ListenUDP binds a transport.
func ListenUDP(cfg UDPConfig) (*UDPTransport, error) {
	dst, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address %q: %w", cfg.BroadcastAddr, err)
	}

	conn, err := net.ListenPacket("udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", cfg.ListenAddr, err)
	}

	t := &UDPTransport{
		conn:  conn,
		pc:    ipv4.NewPacketConn(conn),
		dst:   dst,
		local: conn.LocalAddr().(*net.UDPAddr),
		poll:  cfg.PollTimeout,
		logf:  monitoring.Prefixed("network"),
		buf:   make([]byte, protocol.MaxPacketSize+1),
	}
	if t.poll <= 0 {
		t.poll = DefaultPollTimeout
	}

	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("interface %q: %w", cfg.Interface, err)
		}
		t.ifIndex = ifi.Index
	}
	if err := t.pc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagSrc, true); err != nil {
		// not every platform reports the arrival interface
		t.logf("control messages unavailable: %v", err)
		t.ifIndex = 0
	}
	if cfg.TTL > 0 {
		if err := t.pc.SetTTL(cfg.TTL); err != nil {
			t.logf("set TTL %d: %v", cfg.TTL, err)
		}
	}

	t.selfIPs = localIPSet()
	if !t.local.IP.IsUnspecified() {
		t.selfIPs[t.local.IP.String()] = struct{}{}
	}
	return t, nil
}

func localIPSet() map[string]struct{} {
	set := make(map[string]struct{})
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return set
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if v4 := ipn.IP.To4(); v4 != nil {
				set[v4.String()] = struct{}{}
			}
		}
	}
	return set
}

func (t *UDPTransport) Broadcast(payload []byte) error {
	if _, err := t.pc.WriteTo(payload, nil, t.dst); err != nil {
		return fmt.Errorf("broadcast to %v: %w", t.dst, err)
	}
	return nil
}

// Poll waits at most PollTimeout for one datagram.
func (t *UDPTransport) Poll() (Datagram, bool, error) {
	return t.readWithin(t.poll)
}

// Receive blocks until a datagram arrives or ctx is done.
func (t *UDPTransport) Receive(ctx context.Context) (Datagram, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Datagram{}, err
		}
		d, ok, err := t.readWithin(receiveSlice)
		if err != nil {
			return Datagram{}, err
		}
		if ok {
			return d, nil
		}
	}
}

func (t *UDPTransport) readWithin(wait time.Duration) (Datagram, bool, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if err := t.pc.SetReadDeadline(time.Now().Add(wait)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, false, ErrClosed
		}
		return Datagram{}, false, fmt.Errorf("set read deadline: %w", err)
	}
	n, cm, src, err := t.pc.ReadFrom(t.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Datagram{}, false, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, false, ErrClosed
		}
		return Datagram{}, false, fmt.Errorf("read: %w", err)
	}

	if t.isSelf(src) {
		monitoring.PacketsDropped.WithLabelValues("self_echo").Inc()
		return Datagram{}, false, nil
	}
	if t.ifIndex != 0 && cm != nil && cm.IfIndex != t.ifIndex {
		monitoring.PacketsDropped.WithLabelValues("foreign_interface").Inc()
		return Datagram{}, false, nil
	}

	payload := make([]byte, n)
	copy(payload, t.buf[:n])
	return Datagram{Payload: payload, From: src}, true, nil
}

func (t *UDPTransport) isSelf(src net.Addr) bool {
	u, ok := src.(*net.UDPAddr)
	if !ok || u.Port != t.local.Port {
		return false
	}
	_, mine := t.selfIPs[u.IP.String()]
	return mine
}

func (t *UDPTransport) LocalAddr() net.Addr { return t.local }

func (t *UDPTransport) Close() error { return t.conn.Close() }

// Package node runs one swarm participant: a polled loop that records peers'
// readings, samples and broadcasts after a silence window, elects itself
// reporter when no known peer reads higher, and recovers from swarm-wide
// resets.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lightswarm/internal/feedback"
	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/network"
	"github.com/banshee-data/lightswarm/internal/protocol"
	"github.com/banshee-data/lightswarm/internal/sensor"
	"github.com/banshee-data/lightswarm/internal/swarm"
	"github.com/banshee-data/lightswarm/internal/timeutil"
)

const (
	DefaultSilenceWindow    = 200 * time.Millisecond
	DefaultQuiescencePeriod = 3000 * time.Millisecond
	DefaultLoopInterval     = time.Millisecond

	// drainLimit caps how many queued datagrams one quiescent step discards.
	drainLimit = 64
)

// Config holds the scheduler timings and identifier space.
type Config struct {
	Capacity         int
	SilenceWindow    time.Duration
	QuiescencePeriod time.Duration
	LoopInterval     time.Duration
}

// DefaultConfig returns the timings used by the deployed swarm.
func DefaultConfig() Config {
	return Config{
		Capacity:         protocol.DefaultCapacity,
		SilenceWindow:    DefaultSilenceWindow,
		QuiescencePeriod: DefaultQuiescencePeriod,
		LoopInterval:     DefaultLoopInterval,
	}
}

// Deps are the collaborators a Node drives.
type Deps struct {
	Transport network.Transport
	Source    sensor.Source
	Feedback  *feedback.Driver
	Clock     timeutil.Clock
	// Addr is the node's IPv4 address; the swarm id is derived from it.
	Addr net.IP
	// OnRoleChange, if set, is called from the loop goroutine when a round
	// changes the leader flag. A reset restores leadership without calling it.
	OnRoleChange func(leader bool)
}

// Status is a point-in-time copy of the node's state, safe to read from any
// goroutine.
type Status struct {
	ID           int       `json:"id"`
	Addr         string    `json:"addr"`
	Reading      int       `json:"reading"`
	Leader       bool      `json:"leader"`
	Quiescent    bool      `json:"quiescent"`
	QuietUntil   time.Time `json:"quiet_until,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	Table        []int     `json:"table"`
	Rounds       uint64    `json:"rounds"`
}

// Node is the aggregate of all mutable per-node state. Every method except
// Status must be called from the single goroutine that owns the node.
type Node struct {
	cfg          Config
	codec        *protocol.Codec
	table        *swarm.Table
	transport    network.Transport
	source       sensor.Source
	fb           *feedback.Driver
	clock        timeutil.Clock
	addr         net.IP
	onRoleChange func(bool)
	logf         func(format string, v ...interface{})

	id           int
	reading      int
	leader       bool
	prevLeader   bool
	lastActivity time.Time
	quiescent    bool
	quietUntil   time.Time
	rounds       uint64
	pollErr      string

	status atomic.Pointer[Status]
}

// New builds a node that starts as leader with an empty table.
func New(cfg Config, deps Deps) (*Node, error) {
	if deps.Transport == nil || deps.Source == nil || deps.Feedback == nil {
		return nil, errors.New("node: transport, source and feedback are required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = protocol.DefaultCapacity
	}
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = DefaultSilenceWindow
	}
	if cfg.QuiescencePeriod < 0 {
		cfg.QuiescencePeriod = DefaultQuiescencePeriod
	}
	if cfg.LoopInterval < 0 {
		cfg.LoopInterval = DefaultLoopInterval
	}

	id, err := swarm.DeriveID(deps.Addr, cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("derive swarm id: %w", err)
	}

	n := &Node{
		cfg:          cfg,
		codec:        protocol.NewCodec(cfg.Capacity),
		table:        swarm.NewTable(cfg.Capacity),
		transport:    deps.Transport,
		source:       deps.Source,
		fb:           deps.Feedback,
		clock:        deps.Clock,
		addr:         deps.Addr,
		onRoleChange: deps.OnRoleChange,
		logf:         monitoring.Prefixed(fmt.Sprintf("node %d", id)),
		id:           id,
		leader:       true,
		prevLeader:   true,
		lastActivity: deps.Clock.Now(),
	}
	monitoring.IsLeader.Set(1)
	n.publish()
	return n, nil
}

// Run steps the node until ctx is cancelled or the transport closes.
func (n *Node) Run(ctx context.Context) error {
	n.logf("running as id %d (%v), silence window %v", n.id, n.addr, n.cfg.SilenceWindow)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.Step(ctx); err != nil {
			return err
		}
		n.clock.Sleep(n.cfg.LoopInterval)
	}
}

// Step performs one loop iteration: feedback tick, at most one inbound
// datagram, then a round if the silence window has elapsed. While quiescent it
// only discards inbound traffic. The returned error is non-nil only when the
// transport has closed.
func (n *Node) Step(ctx context.Context) error {
	defer n.publish()

	now := n.clock.Now()
	if n.quiescent {
		if now.Before(n.quietUntil) {
			n.fb.Suppress()
			return n.drain()
		}
		n.quiescent = false
		n.logf("quiescence over, resuming rounds")
	}

	n.fb.Tick(now, n.reading, n.leader)

	d, ok, err := n.transport.Poll()
	if err == nil {
		n.pollErr = ""
	}
	switch {
	case errors.Is(err, network.ErrClosed):
		return err
	case err != nil:
		n.pollFailed(err)
	case ok:
		n.handleDatagram(n.clock.Now(), d)
		if n.quiescent {
			return nil
		}
	}

	now = n.clock.Now()
	if now.Sub(n.lastActivity) > n.cfg.SilenceWindow {
		n.round(ctx, now)
	}
	return nil
}

// pollFailed counts a receive error and logs it only when it differs from the
// previous one, so a dead socket does not log on every step.
func (n *Node) pollFailed(err error) {
	monitoring.PacketsDropped.WithLabelValues("poll_error").Inc()
	if msg := err.Error(); msg != n.pollErr {
		n.pollErr = msg
		n.logf("poll: %v", err)
	}
}

func (n *Node) handleDatagram(now time.Time, d network.Datagram) {
	msg, err := n.codec.Decode(d.Payload)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownFraming) {
			reason = "unknown_framing"
		}
		monitoring.PacketsDropped.WithLabelValues(reason).Inc()
		n.logf("dropping datagram from %v: %v", d.From, err)
		return
	}
	monitoring.PacketsReceived.WithLabelValues(msg.Kind().String()).Inc()

	switch m := msg.(type) {
	case protocol.PeerReading:
		n.table.Record(m.ID, m.Reading)
		n.lastActivity = now
		monitoring.KnownPeers.Set(float64(n.table.Known(n.id)))
	case protocol.ResetCommand:
		n.HandleIncomingReset(now)
	case protocol.LeaderReport:
		// addressed to the collector
	}
}

// round samples, broadcasts, and re-evaluates leadership. The node's own
// broadcast always precedes its election check.
func (n *Node) round(ctx context.Context, now time.Time) {
	reading, err := n.source.Sample(ctx)
	n.lastActivity = now
	if err != nil {
		monitoring.SampleErrors.Inc()
		n.logf("sample failed, skipping round: %v", err)
		return
	}
	n.reading = reading
	n.rounds++
	monitoring.Rounds.Inc()
	monitoring.CurrentReading.Set(float64(reading))

	n.broadcast(protocol.PeerReading{ID: n.id, Reading: reading})

	leader := swarm.Resolve(n.id, reading, n.table)
	if leader {
		n.broadcast(protocol.LeaderReport{ID: n.id, Reading: reading})
	}
	n.leader = leader
	if leader != n.prevLeader {
		n.prevLeader = leader
		n.roleChanged(leader)
	}
}

func (n *Node) broadcast(msg protocol.Message) {
	kind := msg.Kind().String()
	payload, err := n.codec.Encode(msg)
	if err != nil {
		monitoring.Broadcasts.WithLabelValues(kind, "encode_error").Inc()
		n.logf("encode %v: %v", msg, err)
		return
	}
	if err := n.transport.Broadcast(payload); err != nil {
		monitoring.Broadcasts.WithLabelValues(kind, "error").Inc()
		n.logf("broadcast %s: %v", payload, err)
		return
	}
	monitoring.Broadcasts.WithLabelValues(kind, "ok").Inc()
}

func (n *Node) roleChanged(leader bool) {
	role := "follower"
	if leader {
		role = "leader"
	}
	monitoring.RoleChanges.WithLabelValues(role).Inc()
	monitoring.IsLeader.Set(monitoring.BoolGauge(leader))
	n.logf("now %s at reading %d", role, n.reading)
	if n.onRoleChange != nil {
		n.onRoleChange(leader)
	}
}

func (n *Node) drain() error {
	for i := 0; i < drainLimit; i++ {
		_, ok, err := n.transport.Poll()
		if errors.Is(err, network.ErrClosed) {
			return err
		}
		if err != nil || !ok {
			return nil
		}
		monitoring.PacketsDropped.WithLabelValues("quiescent").Inc()
	}
	return nil
}

func (n *Node) publish() {
	s := &Status{
		ID:           n.id,
		Addr:         n.addr.String(),
		Reading:      n.reading,
		Leader:       n.leader,
		Quiescent:    n.quiescent,
		LastActivity: n.lastActivity,
		Table:        n.table.Snapshot(),
		Rounds:       n.rounds,
	}
	if n.quiescent {
		s.QuietUntil = n.quietUntil
	}
	n.status.Store(s)
}

// Status returns the state as of the end of the last step.
func (n *Node) Status() Status {
	return *n.status.Load()
}

func (n *Node) ID() int         { return n.id }
func (n *Node) Leader() bool    { return n.leader }
func (n *Node) Reading() int    { return n.reading }
func (n *Node) Quiescent() bool { return n.quiescent }
func (n *Node) Table() []int    { return n.table.Snapshot() }

// Package collector implements the base station: it listens for leader
// reports, keeps their history, shows the current leader on one of a small
// bank of LEDs and is the only party that can reset the swarm.
package collector

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lightswarm/internal/feedback"
	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/network"
	"github.com/banshee-data/lightswarm/internal/protocol"
	"github.com/banshee-data/lightswarm/internal/store"
	"github.com/banshee-data/lightswarm/internal/timeutil"
)

const (
	DefaultLEDChannels    = 3
	DefaultResetPause     = 3 * time.Second
	DefaultStatusInterval = time.Second
	DefaultTickInterval   = 5 * time.Millisecond
)

var ErrResetInProgress = errors.New("reset already in progress")

// History is where the collector records what it hears. *store.Store
// implements it.
type History interface {
	StartSession(ctx context.Context, s store.Session) error
	RecordReading(ctx context.Context, r store.Reading) (int64, error)
	RecordEvent(ctx context.Context, e store.Event) (int64, error)
	Truncate(ctx context.Context) error
}

type Config struct {
	Capacity       int
	LEDChannels    int
	ResetPause     time.Duration
	StatusInterval time.Duration
	TickInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:       protocol.DefaultCapacity,
		LEDChannels:    DefaultLEDChannels,
		ResetPause:     DefaultResetPause,
		StatusInterval: DefaultStatusInterval,
		TickInterval:   DefaultTickInterval,
	}
}

type Deps struct {
	Transport network.Receiver
	// History may be nil, in which case nothing is persisted.
	History     History
	Calibration *feedback.Calibration
	// LEDs holds one output per blink channel. Missing entries are padded
	// with log outputs up to Config.LEDChannels.
	LEDs     []feedback.Output
	ResetLED feedback.Output
	Clock    timeutil.Clock
	// NewSessionID defaults to uuid.NewString.
	NewSessionID func() string
}

// Status is a snapshot of the collector's view of the swarm.
type Status struct {
	Session     string        `json:"session"`
	Master      *int          `json:"master,omitempty"`
	Reading     *int          `json:"reading,omitempty"`
	LED         int           `json:"led"`
	Interval    time.Duration `json:"interval_ns"`
	Assignments map[int]int   `json:"assignments"`
	Reports     uint64        `json:"reports"`
	Resetting   bool          `json:"resetting"`
	ResetUntil  time.Time     `json:"reset_until,omitempty"`
	Started     time.Time     `json:"started"`
}

type Collector struct {
	cfg      Config
	codec    *protocol.Codec
	rx       network.Receiver
	history  History
	cal      *feedback.Calibration
	blinkers []*feedback.Blinker
	resetLED feedback.Output
	clock    timeutil.Clock
	newID    func() string
	logf     func(format string, v ...interface{})

	mu          sync.Mutex
	session     string
	started     time.Time
	master      int // -1 when unset
	reading     int
	assignments map[int]int
	nextLED     int
	reports     uint64
	lastStatus  time.Time
	resetting   bool
	resetUntil  time.Time

	subs    map[int]chan Update
	nextSub int
}

// New builds a collector and opens its first session.
func New(ctx context.Context, cfg Config, deps Deps) (*Collector, error) {
	if deps.Transport == nil {
		return nil, errors.New("collector: transport is required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = protocol.DefaultCapacity
	}
	if cfg.LEDChannels <= 0 {
		cfg.LEDChannels = DefaultLEDChannels
	}
	if cfg.ResetPause < 0 {
		cfg.ResetPause = DefaultResetPause
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Calibration == nil {
		deps.Calibration = feedback.DefaultCalibration()
	}
	if deps.ResetLED == nil {
		deps.ResetLED = feedback.LogOutput{Name: "reset"}
	}
	if deps.NewSessionID == nil {
		deps.NewSessionID = uuid.NewString
	}

	c := &Collector{
		cfg:         cfg,
		codec:       protocol.NewCodec(cfg.Capacity),
		rx:          deps.Transport,
		history:     deps.History,
		cal:         deps.Calibration,
		resetLED:    deps.ResetLED,
		clock:       deps.Clock,
		newID:       deps.NewSessionID,
		logf:        monitoring.Prefixed("collector"),
		master:      -1,
		assignments: make(map[int]int),
		subs:        make(map[int]chan Update),
	}
	for i := 0; i < cfg.LEDChannels; i++ {
		var out feedback.Output = feedback.LogOutput{Name: "LED" + strconv.Itoa(i)}
		if i < len(deps.LEDs) && deps.LEDs[i] != nil {
			out = deps.LEDs[i]
		}
		c.blinkers = append(c.blinkers, feedback.NewBlinker(out, c.cal))
	}

	now := c.clock.Now()
	c.started = now
	c.lastStatus = now
	for _, b := range c.blinkers {
		b.Off()
	}
	if err := c.resetLED.Set(false); err != nil {
		c.logf("reset LED write failed: %v", err)
	}
	if err := c.startSession(ctx, now, "startup"); err != nil {
		return nil, err
	}
	return c, nil
}

// HandlePacket processes one inbound datagram payload received at now.
func (c *Collector) HandlePacket(ctx context.Context, payload []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resetting {
		if now.Before(c.resetUntil) {
			monitoring.IgnoredPackets.WithLabelValues("resetting").Inc()
			return
		}
		c.finishResetLocked()
	}

	msg, err := c.codec.Decode(payload)
	if err != nil {
		monitoring.IgnoredPackets.WithLabelValues("malformed").Inc()
		c.logf("ignoring packet: %v", err)
		return
	}
	switch m := msg.(type) {
	case protocol.LeaderReport:
		c.handleReportLocked(ctx, m, now)
	case protocol.PeerReading:
		monitoring.IgnoredPackets.WithLabelValues("peer_reading").Inc()
	case protocol.ResetCommand:
		monitoring.IgnoredPackets.WithLabelValues("reset_command").Inc()
	}
}

func (c *Collector) handleReportLocked(ctx context.Context, m protocol.LeaderReport, now time.Time) {
	monitoring.LeaderReports.WithLabelValues(strconv.Itoa(m.ID)).Inc()
	c.reports++

	prev := c.master
	c.master = m.ID
	c.reading = m.Reading
	led := c.assignLocked(m.ID)
	interval := c.cal.Interval(m.Reading)

	if c.history != nil {
		_, err := c.history.RecordReading(ctx, store.Reading{
			Session: c.session,
			SwarmID: m.ID,
			Reading: m.Reading,
			LED:     led,
			At:      now,
		})
		if err != nil {
			c.logf("%v", err)
		}
	}

	if prev != m.ID {
		kind := store.EventMasterSet
		if prev >= 0 {
			kind = store.EventMasterChange
			monitoring.MasterChanges.Inc()
			c.logf("EVENT master_change from=%d to=%d LED%d", prev, m.ID, led)
		} else {
			c.logf("EVENT master_set to=%d LED%d", m.ID, led)
		}
		ev := store.Event{Session: c.session, Kind: kind, SwarmID: intp(m.ID), Reading: intp(m.Reading), At: now}
		if prev >= 0 {
			ev.PrevID = intp(prev)
		}
		c.recordEventLocked(ctx, ev)
		c.publishLocked(Update{
			Kind:    UpdateKind(kind),
			Session: c.session,
			SwarmID: m.ID,
			PrevID:  prev,
			Reading: m.Reading,
			LED:     led,
			At:      now,
		})
	}

	for i, b := range c.blinkers {
		if i != led {
			b.Off()
		}
	}
	c.blinkers[led].Tick(now, m.Reading)

	if now.Sub(c.lastStatus) >= c.cfg.StatusInterval {
		c.lastStatus = now
		c.logf("STATUS master=%d value=%d blink=%dms LED%d", m.ID, m.Reading, interval.Milliseconds(), led)
	}

	c.publishLocked(Update{
		Kind:     UpdateReading,
		Session:  c.session,
		SwarmID:  m.ID,
		PrevID:   prev,
		Reading:  m.Reading,
		LED:      led,
		Interval: interval,
		At:       now,
	})
}

// assignLocked returns the blink channel for id, handing out channels
// round-robin on first sight. Channels are reused once every one is taken.
func (c *Collector) assignLocked(id int) int {
	if led, ok := c.assignments[id]; ok {
		return led
	}
	led := c.nextLED
	c.assignments[id] = led
	c.nextLED = (c.nextLED + 1) % len(c.blinkers)
	return led
}

// Tick advances the current leader's blink between packets and ends an
// expired reset pause. Run calls it every TickInterval.
func (c *Collector) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resetting {
		if now.Before(c.resetUntil) {
			return
		}
		c.finishResetLocked()
		return
	}
	if c.master < 0 {
		return
	}
	c.blinkers[c.assignments[c.master]].Tick(now, c.reading)
}

// Status returns a snapshot of the collector state.
func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Session:     c.session,
		LED:         -1,
		Assignments: make(map[int]int, len(c.assignments)),
		Reports:     c.reports,
		Resetting:   c.resetting,
		Started:     c.started,
	}
	for id, led := range c.assignments {
		st.Assignments[id] = led
	}
	if c.resetting {
		st.ResetUntil = c.resetUntil
	}
	if c.master >= 0 {
		st.Master = intp(c.master)
		st.Reading = intp(c.reading)
		st.LED = c.assignments[c.master]
		st.Interval = c.cal.Interval(c.reading)
	}
	return st
}

// Run receives datagrams until ctx is cancelled or the transport closes, and
// ticks the blink channels in between.
func (c *Collector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Tick(c.clock.Now())
			}
		}
	}()

	for {
		d, err := c.rx.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.HandlePacket(ctx, d.Payload, c.clock.Now())
	}
}

func (c *Collector) startSession(ctx context.Context, now time.Time, reason string) error {
	c.session = c.newID()
	if c.history == nil {
		return nil
	}
	return c.history.StartSession(ctx, store.Session{ID: c.session, Reason: reason, Started: now})
}

func (c *Collector) recordEventLocked(ctx context.Context, ev store.Event) {
	if c.history == nil {
		return
	}
	if _, err := c.history.RecordEvent(ctx, ev); err != nil {
		c.logf("%v", err)
	}
}

func intp(v int) *int { return &v }

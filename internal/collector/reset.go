package collector

import (
	"context"
	"fmt"

	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/protocol"
	"github.com/banshee-data/lightswarm/internal/store"
)

// TriggerReset tells the swarm to start over. It broadcasts a ResetCommand,
// clears the stored history, opens a new session and lights the reset
// indicator for ResetPause, during which inbound packets are ignored.
//
// The local reset happens even if the broadcast fails; the broadcast error is
// returned.
func (c *Collector) TriggerReset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.resetting && now.Before(c.resetUntil) {
		return ErrResetInProgress
	}

	var sendErr error
	payload, err := c.codec.Encode(protocol.ResetCommand{})
	if err == nil {
		err = c.rx.Broadcast(payload)
	}
	if err != nil {
		monitoring.Broadcasts.WithLabelValues(protocol.KindResetCommand.String(), "error").Inc()
		sendErr = fmt.Errorf("failed to broadcast reset: %w", err)
		c.logf("%v", sendErr)
	} else {
		monitoring.Broadcasts.WithLabelValues(protocol.KindResetCommand.String(), "ok").Inc()
	}
	monitoring.ResetsTriggered.Inc()

	if c.history != nil {
		if err := c.history.Truncate(ctx); err != nil {
			c.logf("%v", err)
		}
	}
	if err := c.startSession(ctx, now, "reset"); err != nil {
		c.logf("%v", err)
	}
	c.recordEventLocked(ctx, store.Event{Session: c.session, Kind: store.EventReset, At: now})

	c.master = -1
	c.reading = 0
	c.assignments = make(map[int]int)
	c.nextLED = 0
	c.lastStatus = now

	for _, b := range c.blinkers {
		b.Off()
	}
	if err := c.resetLED.Set(true); err != nil {
		c.logf("reset LED write failed: %v", err)
	}
	c.resetting = true
	c.resetUntil = now.Add(c.cfg.ResetPause)
	c.logf("EVENT reset broadcast=RESET session=%s pause=%v", c.session, c.cfg.ResetPause)

	c.publishLocked(Update{
		Kind:    UpdateReset,
		Session: c.session,
		SwarmID: -1,
		PrevID:  -1,
		LED:     -1,
		At:      now,
	})
	return sendErr
}

// finishResetLocked ends the reset pause and turns the indicator off.
func (c *Collector) finishResetLocked() {
	c.resetting = false
	if err := c.resetLED.Set(false); err != nil {
		c.logf("reset LED write failed: %v", err)
	}
	c.logf("reset pause over, listening")
}

// Resetting reports whether the collector is inside a reset pause.
func (c *Collector) Resetting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetting
}

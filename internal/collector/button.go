package collector

import (
	"context"
	"errors"

	"github.com/banshee-data/lightswarm/internal/serialmux"
)

// WatchBoard triggers a reset whenever the LED board reports a button press.
// It returns when ctx is done or the board closes the subscription.
func (c *Collector) WatchBoard(ctx context.Context, board serialmux.SerialMuxInterface) {
	id, lines := board.Subscribe()
	defer board.Unsubscribe(id)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if serialmux.ClassifyPayload(line) != serialmux.EventTypeButton {
				continue
			}
			err := c.TriggerReset(ctx)
			switch {
			case errors.Is(err, ErrResetInProgress):
				c.logf("button ignored, reset in progress")
			case err != nil:
				c.logf("button reset: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

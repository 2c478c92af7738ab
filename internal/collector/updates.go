package collector

import "time"

// UpdateKind labels what an Update reports.
type UpdateKind string

const (
	UpdateReading      UpdateKind = "reading"
	UpdateMasterSet    UpdateKind = "master_set"
	UpdateMasterChange UpdateKind = "master_change"
	UpdateReset        UpdateKind = "reset"
)

// subscriberBuffer is the per-subscriber channel depth. Updates to a full
// subscriber are dropped.
const subscriberBuffer = 32

// Update is pushed to subscribers for every leader report and state change.
// PrevID is -1 when there was no previous leader; SwarmID is -1 for resets.
type Update struct {
	Kind     UpdateKind
	Session  string
	SwarmID  int
	PrevID   int
	Reading  int
	LED      int
	Interval time.Duration
	At       time.Time
}

// Subscribe registers a new listener and returns its id and channel.
func (c *Collector) Subscribe() (int, <-chan Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Update, subscriberBuffer)
	c.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (c *Collector) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Collector) publishLocked(u Update) {
	for id, ch := range c.subs {
		select {
		case ch <- u:
		default:
			c.logf("subscriber %d is slow, dropping %s update", id, u.Kind)
		}
	}
}

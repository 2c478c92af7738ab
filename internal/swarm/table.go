// Package swarm holds the per-node view of the swarm: the table of peers'
// last-known readings, the election rule applied to it, and the mapping from
// a network address to a swarm identifier.
package swarm

// Unknown marks a table slot for which no reading has been observed.
const Unknown = -1

// Table is a fixed-capacity map from swarm identifier to the last reading
// heard from that identifier. Slots never expire: a peer that leaves the
// swarm keeps voting with its last reading until overwritten or cleared.
//
// Table is not safe for concurrent use; it is owned by the scheduler loop.
type Table struct {
	readings []int
}

// NewTable returns a table with capacity slots, all Unknown.
func NewTable(capacity int) *Table {
	t := &Table{readings: make([]int, capacity)}
	t.ClearAll()
	return t
}

// Capacity returns the number of slots, N.
func (t *Table) Capacity() int { return len(t.readings) }

// Record overwrites the slot for id. There is no freshness check, so a
// delayed datagram can replace a newer value. Out-of-range ids and negative
// readings are ignored.
func (t *Table) Record(id, reading int) {
	if !t.inRange(id) || reading < 0 {
		return
	}
	t.readings[id] = reading
}

// Get returns the reading for id and whether one is known.
func (t *Table) Get(id int) (int, bool) {
	if !t.inRange(id) || t.readings[id] == Unknown {
		return Unknown, false
	}
	return t.readings[id], true
}

// ClearAll resets every slot to Unknown.
func (t *Table) ClearAll() {
	for i := range t.readings {
		t.readings[i] = Unknown
	}
}

// Known returns the number of slots holding a reading, excluding skip.
// Pass -1 to count every slot.
func (t *Table) Known(skip int) int {
	n := 0
	for i, r := range t.readings {
		if i != skip && r != Unknown {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of all slots, Unknown included.
func (t *Table) Snapshot() []int {
	out := make([]int, len(t.readings))
	copy(out, t.readings)
	return out
}

func (t *Table) inRange(id int) bool {
	return id >= 0 && id < len(t.readings)
}

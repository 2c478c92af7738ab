package feedback

import "time"

// Driver owns the two feedback channels of a node.
type Driver struct {
	indicator *Blinker
	leader    *Blinker
}

func NewDriver(indicator, leader Output, cal *Calibration) *Driver {
	return &Driver{
		indicator: NewBlinker(indicator, cal),
		leader:    NewBlinker(leader, cal),
	}
}

// Tick advances both channels. The indicator always blinks; the leader channel
// blinks only while isLeader and is held off otherwise.
func (d *Driver) Tick(now time.Time, reading int, isLeader bool) {
	d.indicator.Tick(now, reading)
	if isLeader {
		d.leader.Tick(now, reading)
	} else {
		d.leader.Off()
	}
}

// Suppress turns both channels off, as during reset quiescence.
func (d *Driver) Suppress() {
	d.indicator.Off()
	d.leader.Off()
}

func (d *Driver) Indicator() *Blinker { return d.indicator }
func (d *Driver) Leader() *Blinker    { return d.leader }

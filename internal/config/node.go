package config

import (
	"fmt"
	"time"

	"github.com/banshee-data/lightswarm/internal/feedback"
	"github.com/banshee-data/lightswarm/internal/node"
	"github.com/banshee-data/lightswarm/internal/protocol"
	"github.com/banshee-data/lightswarm/internal/serialmux"
)

// CalibrationPoint is a (reading, blink interval) pair in a config file.
type CalibrationPoint struct {
	Reading  int    `json:"reading"`
	Interval string `json:"interval"` // duration string like "2010ms"
}

// BoardConfig describes the serial sensor board. An empty Path runs the node
// on a simulated light level.
type BoardConfig struct {
	Path *string `json:"path,omitempty"`
	serialmux.PortOptions
	IndicatorChannel *string `json:"indicator_channel,omitempty"`
	LeaderChannel    *string `json:"leader_channel,omitempty"`
}

// NodeConfig is the root configuration of a swarm node.
type NodeConfig struct {
	// Swarm params
	Capacity    *int    `json:"capacity,omitempty"`
	Port        *int    `json:"port,omitempty"`
	BroadcastIP *string `json:"broadcast_ip,omitempty"`
	Interface   *string `json:"interface,omitempty"`

	// Scheduler params
	SilenceWindow    *string `json:"silence_window,omitempty"`    // duration string like "200ms"
	QuiescencePeriod *string `json:"quiescence_period,omitempty"` // duration string like "3s"
	LoopInterval     *string `json:"loop_interval,omitempty"`
	PollTimeout      *string `json:"poll_timeout,omitempty"`

	// Feedback params
	CalibrationLow  *CalibrationPoint `json:"calibration_low,omitempty"`
	CalibrationHigh *CalibrationPoint `json:"calibration_high,omitempty"`
	MinInterval     *string           `json:"min_interval,omitempty"`
	MaxInterval     *string           `json:"max_interval,omitempty"`

	Board *BoardConfig `json:"board,omitempty"`

	// ListenAddr serves /metrics, /status and the /debug/ board routes.
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// EmptyNodeConfig returns a NodeConfig with all fields nil.
func EmptyNodeConfig() *NodeConfig {
	return &NodeConfig{}
}

// DefaultNodeConfig returns a NodeConfig with every field set to its default.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Capacity:         ptrInt(protocol.DefaultCapacity),
		Port:             ptrInt(protocol.DefaultPort),
		BroadcastIP:      ptrString("255.255.255.255"),
		Interface:        ptrString(""),
		SilenceWindow:    ptrString("200ms"),
		QuiescencePeriod: ptrString("3s"),
		LoopInterval:     ptrString("1ms"),
		PollTimeout:      ptrString("1ms"),
		CalibrationLow:   &CalibrationPoint{Reading: feedback.DefaultLow.Reading, Interval: "2010ms"},
		CalibrationHigh:  &CalibrationPoint{Reading: feedback.DefaultHigh.Reading, Interval: "10ms"},
		MinInterval:      ptrString("5ms"),
		MaxInterval:      ptrString("2058ms"),
		Board: &BoardConfig{
			Path:             ptrString(""),
			PortOptions:      serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate},
			IndicatorChannel: ptrString("0"),
			LeaderChannel:    ptrString("1"),
		},
		ListenAddr: ptrString(":9410"),
	}
}

// LoadNodeConfig loads a NodeConfig from a JSON file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cfg := EmptyNodeConfig()
	if err := loadJSON(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *NodeConfig) Validate() error {
	if c.Capacity != nil && (*c.Capacity < 1 || *c.Capacity > 256) {
		return fmt.Errorf("capacity must be between 1 and 256, got %d", *c.Capacity)
	}
	if err := checkPort("port", c.Port); err != nil {
		return err
	}
	for _, d := range []struct {
		name string
		v    *string
		zero bool
	}{
		{"silence_window", c.SilenceWindow, false},
		{"quiescence_period", c.QuiescencePeriod, true},
		{"loop_interval", c.LoopInterval, true},
		{"poll_timeout", c.PollTimeout, false},
		{"min_interval", c.MinInterval, false},
		{"max_interval", c.MaxInterval, false},
	} {
		if err := checkDuration(d.name, d.v, d.zero); err != nil {
			return err
		}
	}
	if c.GetMinInterval() > c.GetMaxInterval() {
		return fmt.Errorf("min_interval %v exceeds max_interval %v", c.GetMinInterval(), c.GetMaxInterval())
	}
	for name, p := range map[string]*CalibrationPoint{"calibration_low": c.CalibrationLow, "calibration_high": c.CalibrationHigh} {
		if p == nil {
			continue
		}
		if p.Reading < 0 {
			return fmt.Errorf("%s reading must be non-negative, got %d", name, p.Reading)
		}
		if err := checkDuration(name+" interval", &p.Interval, false); err != nil {
			return err
		}
	}
	if _, err := c.Calibration(); err != nil {
		return err
	}
	if c.Board != nil {
		if _, err := c.Board.PortOptions.Normalize(); err != nil {
			return fmt.Errorf("board: %w", err)
		}
	}
	return nil
}

// GetCapacity returns the swarm identifier space N.
func (c *NodeConfig) GetCapacity() int {
	if c.Capacity == nil {
		return protocol.DefaultCapacity
	}
	return *c.Capacity
}

// GetPort returns the UDP port used for the swarm.
func (c *NodeConfig) GetPort() int {
	if c.Port == nil {
		return protocol.DefaultPort
	}
	return *c.Port
}

// GetBroadcastIP returns the destination address for broadcasts.
func (c *NodeConfig) GetBroadcastIP() string {
	if c.BroadcastIP == nil || *c.BroadcastIP == "" {
		return "255.255.255.255"
	}
	return *c.BroadcastIP
}

// GetInterface returns the network interface name, empty for auto-detect.
func (c *NodeConfig) GetInterface() string {
	if c.Interface == nil {
		return ""
	}
	return *c.Interface
}

func (c *NodeConfig) GetSilenceWindow() time.Duration {
	return durationOr(c.SilenceWindow, node.DefaultSilenceWindow)
}

func (c *NodeConfig) GetQuiescencePeriod() time.Duration {
	return durationOr(c.QuiescencePeriod, node.DefaultQuiescencePeriod)
}

func (c *NodeConfig) GetLoopInterval() time.Duration {
	return durationOr(c.LoopInterval, node.DefaultLoopInterval)
}

func (c *NodeConfig) GetPollTimeout() time.Duration {
	return durationOr(c.PollTimeout, time.Millisecond)
}

func (c *NodeConfig) GetMinInterval() time.Duration {
	return durationOr(c.MinInterval, feedback.DefaultMinInterval)
}

func (c *NodeConfig) GetMaxInterval() time.Duration {
	return durationOr(c.MaxInterval, feedback.DefaultMaxInterval)
}

// Calibration fits the feedback line from the configured points.
func (c *NodeConfig) Calibration() (*feedback.Calibration, error) {
	low, high := feedback.DefaultLow, feedback.DefaultHigh
	if c.CalibrationLow != nil {
		low = feedback.Point{Reading: c.CalibrationLow.Reading, Interval: durationOr(&c.CalibrationLow.Interval, low.Interval)}
	}
	if c.CalibrationHigh != nil {
		high = feedback.Point{Reading: c.CalibrationHigh.Reading, Interval: durationOr(&c.CalibrationHigh.Interval, high.Interval)}
	}
	cal, err := feedback.NewCalibration([]feedback.Point{low, high}, c.GetMinInterval(), c.GetMaxInterval())
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	return cal, nil
}

// NodeTimings converts the scheduler fields into a node.Config.
func (c *NodeConfig) NodeTimings() node.Config {
	return node.Config{
		Capacity:         c.GetCapacity(),
		SilenceWindow:    c.GetSilenceWindow(),
		QuiescencePeriod: c.GetQuiescencePeriod(),
		LoopInterval:     c.GetLoopInterval(),
	}
}

// GetBoardPath returns the serial device path, empty when no board is used.
func (c *NodeConfig) GetBoardPath() string {
	if c.Board == nil || c.Board.Path == nil {
		return ""
	}
	return *c.Board.Path
}

// GetBoardOptions returns the serial options with defaults applied.
func (c *NodeConfig) GetBoardOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Board != nil {
		opts = c.Board.PortOptions
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

func (c *NodeConfig) GetIndicatorChannel() string {
	if c.Board == nil || c.Board.IndicatorChannel == nil {
		return "0"
	}
	return *c.Board.IndicatorChannel
}

func (c *NodeConfig) GetLeaderChannel() string {
	if c.Board == nil || c.Board.LeaderChannel == nil {
		return "1"
	}
	return *c.Board.LeaderChannel
}

// GetListenAddr returns the HTTP listen address for metrics and status.
func (c *NodeConfig) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":9410"
	}
	return *c.ListenAddr
}

package config

import (
	"fmt"
	"time"

	"github.com/banshee-data/lightswarm/internal/protocol"
	"github.com/banshee-data/lightswarm/internal/serialmux"
)

// Collector defaults.
const (
	DefaultDBPath         = "lightswarm.db"
	DefaultHTTPAddr       = ":8080"
	DefaultGRPCAddr       = ":50051"
	DefaultResetPause     = 3 * time.Second
	DefaultStatusInterval = time.Second
	DefaultLEDChannels    = 3
)

// CollectorBoardConfig describes the collector's LED board: one LED channel
// per displayed swarm member plus the reset indicator.
type CollectorBoardConfig struct {
	Path *string `json:"path,omitempty"`
	serialmux.PortOptions
	ResetChannel *string `json:"reset_channel,omitempty"`
}

// CollectorConfig is the root configuration of the base-station collector.
type CollectorConfig struct {
	Port        *int    `json:"port,omitempty"`
	BroadcastIP *string `json:"broadcast_ip,omitempty"`
	Capacity    *int    `json:"capacity,omitempty"`

	DBPath   *string `json:"db_path,omitempty"`
	HTTPAddr *string `json:"http_addr,omitempty"`
	GRPCAddr *string `json:"grpc_addr,omitempty"`

	ResetPause     *string `json:"reset_pause,omitempty"`     // duration string like "3s"
	StatusInterval *string `json:"status_interval,omitempty"` // duration string like "1s"
	LEDChannels    *int    `json:"led_channels,omitempty"`

	Board *CollectorBoardConfig `json:"board,omitempty"`
}

func EmptyCollectorConfig() *CollectorConfig {
	return &CollectorConfig{}
}

// DefaultCollectorConfig returns a CollectorConfig with every field set.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Port:           ptrInt(protocol.DefaultPort),
		BroadcastIP:    ptrString("255.255.255.255"),
		Capacity:       ptrInt(protocol.DefaultCapacity),
		DBPath:         ptrString(DefaultDBPath),
		HTTPAddr:       ptrString(DefaultHTTPAddr),
		GRPCAddr:       ptrString(DefaultGRPCAddr),
		ResetPause:     ptrString("3s"),
		StatusInterval: ptrString("1s"),
		LEDChannels:    ptrInt(DefaultLEDChannels),
		Board: &CollectorBoardConfig{
			Path:         ptrString(""),
			PortOptions:  serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate},
			ResetChannel: ptrString("RESET"),
		},
	}
}

// LoadCollectorConfig loads a CollectorConfig from a JSON file.
func LoadCollectorConfig(path string) (*CollectorConfig, error) {
	cfg := EmptyCollectorConfig()
	if err := loadJSON(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *CollectorConfig) Validate() error {
	if err := checkPort("port", c.Port); err != nil {
		return err
	}
	if c.Capacity != nil && (*c.Capacity < 1 || *c.Capacity > 256) {
		return fmt.Errorf("capacity must be between 1 and 256, got %d", *c.Capacity)
	}
	if err := checkDuration("reset_pause", c.ResetPause, true); err != nil {
		return err
	}
	if err := checkDuration("status_interval", c.StatusInterval, false); err != nil {
		return err
	}
	if c.LEDChannels != nil && *c.LEDChannels < 1 {
		return fmt.Errorf("led_channels must be at least 1, got %d", *c.LEDChannels)
	}
	if c.DBPath != nil && *c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.Board != nil {
		if _, err := c.Board.PortOptions.Normalize(); err != nil {
			return fmt.Errorf("board: %w", err)
		}
	}
	return nil
}

func (c *CollectorConfig) GetPort() int {
	if c.Port == nil {
		return protocol.DefaultPort
	}
	return *c.Port
}

func (c *CollectorConfig) GetBroadcastIP() string {
	if c.BroadcastIP == nil || *c.BroadcastIP == "" {
		return "255.255.255.255"
	}
	return *c.BroadcastIP
}

func (c *CollectorConfig) GetCapacity() int {
	if c.Capacity == nil {
		return protocol.DefaultCapacity
	}
	return *c.Capacity
}

func (c *CollectorConfig) GetDBPath() string {
	if c.DBPath == nil {
		return DefaultDBPath
	}
	return *c.DBPath
}

func (c *CollectorConfig) GetHTTPAddr() string {
	if c.HTTPAddr == nil {
		return DefaultHTTPAddr
	}
	return *c.HTTPAddr
}

func (c *CollectorConfig) GetGRPCAddr() string {
	if c.GRPCAddr == nil {
		return DefaultGRPCAddr
	}
	return *c.GRPCAddr
}

func (c *CollectorConfig) GetResetPause() time.Duration {
	return durationOr(c.ResetPause, DefaultResetPause)
}

func (c *CollectorConfig) GetStatusInterval() time.Duration {
	return durationOr(c.StatusInterval, DefaultStatusInterval)
}

func (c *CollectorConfig) GetLEDChannels() int {
	if c.LEDChannels == nil {
		return DefaultLEDChannels
	}
	return *c.LEDChannels
}

func (c *CollectorConfig) GetBoardPath() string {
	if c.Board == nil || c.Board.Path == nil {
		return ""
	}
	return *c.Board.Path
}

func (c *CollectorConfig) GetBoardOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Board != nil {
		opts = c.Board.PortOptions
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

func (c *CollectorConfig) GetResetChannel() string {
	if c.Board == nil || c.Board.ResetChannel == nil {
		return "RESET"
	}
	return *c.Board.ResetChannel
}

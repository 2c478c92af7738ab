package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "LIGHTSWARM_"

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables already set are not overwritten. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func envString(key string, dst **string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		*dst = ptrString(v)
	}
}

func envInt(key string, dst **int) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = ptrInt(n)
	return nil
}

// ApplyEnv overrides file values with LIGHTSWARM_* variables and
// re-validates the result.
func (c *NodeConfig) ApplyEnv() error {
	if err := envInt("CAPACITY", &c.Capacity); err != nil {
		return err
	}
	if err := envInt("PORT", &c.Port); err != nil {
		return err
	}
	envString("BROADCAST_IP", &c.BroadcastIP)
	envString("INTERFACE", &c.Interface)
	envString("SILENCE_WINDOW", &c.SilenceWindow)
	envString("QUIESCENCE_PERIOD", &c.QuiescencePeriod)
	envString("LISTEN_ADDR", &c.ListenAddr)
	if v, ok := os.LookupEnv(EnvPrefix + "BOARD"); ok {
		if c.Board == nil {
			c.Board = &BoardConfig{}
		}
		c.Board.Path = ptrString(v)
	}
	return c.Validate()
}

// ApplyEnv overrides file values with LIGHTSWARM_* variables and
// re-validates the result.
func (c *CollectorConfig) ApplyEnv() error {
	if err := envInt("PORT", &c.Port); err != nil {
		return err
	}
	if err := envInt("LED_CHANNELS", &c.LEDChannels); err != nil {
		return err
	}
	envString("BROADCAST_IP", &c.BroadcastIP)
	envString("DB_PATH", &c.DBPath)
	envString("HTTP_ADDR", &c.HTTPAddr)
	envString("GRPC_ADDR", &c.GRPCAddr)
	envString("RESET_PAUSE", &c.ResetPause)
	if v, ok := os.LookupEnv(EnvPrefix + "BOARD"); ok {
		if c.Board == nil {
			c.Board = &CollectorBoardConfig{}
		}
		c.Board.Path = ptrString(v)
	}
	return c.Validate()
}

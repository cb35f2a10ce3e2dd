package config

import (
	"fmt"
	"slices"
	"time"
)

// Config holds client configuration values.
type Config struct {
	GatewayURL  string        `mapstructure:"gateway_url" yaml:"gateway_url"`
	ChannelURL  string        `mapstructure:"channel_url" yaml:"channel_url"`
	Rooms       []string      `mapstructure:"rooms" yaml:"rooms"`
	DefaultRoom string        `mapstructure:"default_room" yaml:"default_room"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	MinBackoff  time.Duration `mapstructure:"min_backoff" yaml:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	EchoWindow  time.Duration `mapstructure:"echo_window" yaml:"echo_window"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults. The room
// set matches the rooms the relay is deployed with.
func Default() Config {
	return Config{
		GatewayURL:  "http://localhost:8080",
		ChannelURL:  "ws://localhost:8080/ws",
		Rooms:       []string{"general", "programiranje", "igre", "filmovi"},
		DefaultRoom: "general",
		DialTimeout: 10 * time.Second,
		MinBackoff:  500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		EchoWindow:  10 * time.Second,
		LogLevel:    "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.GatewayURL != "" {
		c.GatewayURL = other.GatewayURL
	}
	if other.ChannelURL != "" {
		c.ChannelURL = other.ChannelURL
	}
	if len(other.Rooms) > 0 {
		c.Rooms = other.Rooms
	}
	if other.DefaultRoom != "" {
		c.DefaultRoom = other.DefaultRoom
	}
	if other.DialTimeout != 0 {
		c.DialTimeout = other.DialTimeout
	}
	if other.MinBackoff != 0 {
		c.MinBackoff = other.MinBackoff
	}
	if other.MaxBackoff != 0 {
		c.MaxBackoff = other.MaxBackoff
	}
	if other.EchoWindow != 0 {
		c.EchoWindow = other.EchoWindow
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	if c.ChannelURL == "" {
		return fmt.Errorf("channel_url is required")
	}
	if len(c.Rooms) == 0 {
		return fmt.Errorf("at least one room is required")
	}
	if !slices.Contains(c.Rooms, c.DefaultRoom) {
		return fmt.Errorf("default_room %q is not in rooms", c.DefaultRoom)
	}
	return nil
}

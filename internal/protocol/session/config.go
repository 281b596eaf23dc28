package session

import (
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 6555
)

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	Retries        int
	MaxMessageSize int
}

// DefaultConfig returns the tracker client defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		Retries:        1,
		MaxMessageSize: protocol.DefaultMaxMessageSize,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Retries <= 0 {
		c.Retries = def.Retries
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return c
}

package session

import (
	"time"

	"github.com/danmuck/posewire/internal/protocol/frame"
)

// Config defines transport defaults for one session.
type Config struct {
	// ConnectTimeout bounds the dial only. Zero means no bound.
	ConnectTimeout  time.Duration
	KeepAlive       time.Duration
	NoDelay         bool
	MaxPayloadBytes uint32
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  5 * time.Second,
		KeepAlive:       15 * time.Second,
		NoDelay:         true,
		MaxPayloadBytes: frame.DefaultLimits().MaxPayloadBytes,
	}
}

// WithDefaults fills zero-valued limits from DefaultConfig.
func (c Config) WithDefaults() Config {
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = frame.DefaultLimits().MaxPayloadBytes
	}
	return c
}

func (c Config) limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}

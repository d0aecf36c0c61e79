package posestub

import (
	"strings"

	"github.com/danmuck/posewire/internal/protocol/frame"
)

// Config controls the stub listener and its optional admin endpoint.
type Config struct {
	ListenAddr      string
	AdminAddr       string
	AdminEnabled    bool
	CorsOrigins     []string
	MaxPayloadBytes uint32
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:5555",
		AdminAddr:       "127.0.0.1:9102",
		AdminEnabled:    false,
		MaxPayloadBytes: frame.DefaultLimits().MaxPayloadBytes,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(c.AdminAddr) == "" {
		c.AdminAddr = def.AdminAddr
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	return c
}

func (c Config) limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}

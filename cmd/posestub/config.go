package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/posewire/internal/posestub"
)

type fileConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	AdminAddr       string   `toml:"admin_addr"`
	AdminEnabled    bool     `toml:"admin_enabled"`
	CorsOrigins     []string `toml:"cors_origins"`
	MaxPayloadBytes int64    `toml:"max_payload_bytes"`
}

func loadServerConfig(path string) (posestub.Config, error) {
	cfg := posestub.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return posestub.Config{}, fmt.Errorf("load posestub config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return posestub.Config{}, fmt.Errorf("unknown posestub config key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen_addr") {
		if addr := strings.TrimSpace(raw.ListenAddr); addr != "" {
			cfg.ListenAddr = addr
		}
	}

	if meta.IsDefined("admin_addr") {
		if addr := strings.TrimSpace(raw.AdminAddr); addr != "" {
			cfg.AdminAddr = addr
		}
	}

	if meta.IsDefined("admin_enabled") {
		cfg.AdminEnabled = raw.AdminEnabled
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 || raw.MaxPayloadBytes > 1<<32-1 {
			return posestub.Config{}, fmt.Errorf("max_payload_bytes out of range: %d", raw.MaxPayloadBytes)
		}
		cfg.MaxPayloadBytes = uint32(raw.MaxPayloadBytes)
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

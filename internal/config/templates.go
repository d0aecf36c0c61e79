package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "stub":
		return stubTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `host = "127.0.0.1"
port = 5555
connect_timeout_ms = 5000
so3_grid_size = 72

[camera]
px = 600.0
py = 600.0
u0 = 320.0
v0 = 240.0
height = 480
width = 640
`

const stubTemplate = `listen_addr = "127.0.0.1:5555"
admin_addr = "127.0.0.1:9102"
admin_enabled = true
cors_origins = ["http://localhost:3000"]
max_payload_bytes = 268435456
`

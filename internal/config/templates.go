package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gateway":
		return gatewayTemplate, nil
	case "client":
		return clientTemplate, nil
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

const gatewayTemplate = `service_name = "scangwd"
listen_addr = ":8090"
api_key = ""
cors_origins = ["http://localhost:3000"]
max_scan_bytes = 26214400
shutdown_grace = "10s"
daemon_wait_attempts = 5

[clamd]
network = "tcp"
address = "127.0.0.1:3310"
dial_timeout = "5s"
read_timeout = "60s"
write_timeout = "30s"
chunk_size = 2048

[cache]
backend = "memory"
ttl = "24h"

[cache.redis]
addr = ""
db = 0
key_prefix = "clamctl:verdict:"

[events]
url = ""
subject_prefix = "clamctl"
`

const clientTemplate = `network = "tcp"
address = "127.0.0.1:3310"
dial_timeout = "5s"
read_timeout = "60s"
write_timeout = "30s"
chunk_size = 2048
`

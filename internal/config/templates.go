package config

import (
	"fmt"
	"os"
)

// Template is the documented daemon config with every default spelled out.
func Template() string {
	return daemonTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(daemonTemplate), 0o600)
}

const daemonTemplate = `name = "earlink"
# 16, 24 or 32 byte handshake key, hex encoded. Empty disables the handshake.
auth_key_hex = ""

[engine]
battery_check_first = true
services = [
  "0000fd2d-0000-1000-8000-00805f9b34fb",
  "00001101-0000-1000-8000-008584d01810",
  "00001101-0000-1000-8000-00805f9b34fb",
]
connect_timeout = "5s"
write_timeout = "1s"
reply_timeout = "2s"
# 0 tears the device down on the first link loss.
reconnect_attempts = 1
max_framing_errors = 8
listener_buffer = 64
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
backoff_jitter = true

[api]
enabled = true
addr = "127.0.0.1:8420"
cors_origins = ["http://localhost:3000"]
request_timeout = "5s"
event_buffer = 64

[mcp]
stdio = false

[discovery]
enabled = false
service = "_earlink._tcp"

[bluetooth]
adapter = "hci0"
devices = []
`

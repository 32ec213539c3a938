package main

import (
	"errors"
	"os"
	"strings"

	"github.com/danmuck/earlink/internal/config"
	"github.com/danmuck/earlink/internal/daemon"
)

const defaultConfigPath = "cmd/earlinkd/config.toml"

// loadConfig reads the config file, if any, then applies flags set on the
// command line.
func loadConfig(opts options) (daemon.ServiceConfig, error) {
	cfg := daemon.DefaultServiceConfig()
	path := strings.TrimSpace(opts.config)
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return daemon.ServiceConfig{}, err
		}
		cfg = loaded
	}

	if opts.set["addr"] {
		cfg.API.Addr = strings.TrimSpace(opts.addr)
		cfg.APIEnabled = cfg.API.Addr != ""
	}
	if opts.set["adapter"] {
		cfg.Link.Adapter = strings.TrimSpace(opts.adapter)
	}
	if opts.set["mcp"] {
		cfg.MCPStdio = opts.mcp
	}
	if opts.set["mdns"] {
		cfg.Discovery.Enabled = opts.mdns
	}
	if cfg.Discovery.Enabled && !cfg.APIEnabled {
		return daemon.ServiceConfig{}, errors.New("mdns advertisement needs the admin API enabled")
	}
	return cfg, cfg.Validate()
}

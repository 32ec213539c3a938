package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/earlink/internal/daemon"
	"github.com/danmuck/earlink/internal/logging"
)

func main() {
	opts := parseFlags(os.Args[1:])
	if opts.mcp {
		logging.Configure(logging.ProfileStderr)
	} else {
		logging.ConfigureRuntime()
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "earlinkd: %v\n", err)
		os.Exit(1)
	}
	svc := daemon.NewService(cfg, daemon.OpenBluez)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "earlinkd: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	config  string
	addr    string
	adapter string
	mcp     bool
	mdns    bool
	set     map[string]bool
}

func parseFlags(args []string) options {
	fs := flag.NewFlagSet("earlinkd", flag.ExitOnError)
	var opts options
	fs.StringVar(&opts.config, "config", "", "config path (default cmd/earlinkd/config.toml when present)")
	fs.StringVar(&opts.addr, "addr", "", "admin API listen address")
	fs.StringVar(&opts.adapter, "adapter", "", "bluetooth adapter, e.g. hci0")
	fs.BoolVar(&opts.mcp, "mcp", false, "serve MCP tools on stdio; logs move to stderr")
	fs.BoolVar(&opts.mdns, "mdns", false, "advertise the admin API over mDNS")
	_ = fs.Parse(args)
	opts.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts
}

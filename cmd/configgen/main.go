package main

import (
	"flag"
	"log"

	"github.com/danmuck/earlink/internal/config"
)

const defaultPath = "cmd/earlinkd/config.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for the daemon config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s (name=%s api=%t adapter=%s)", *input, cfg.Name, cfg.APIEnabled, cfg.Link.Adapter)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote config template to %s", *output)
}

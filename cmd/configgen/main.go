package main

import (
	"flag"
	"log"

	"github.com/danmuck/posewire/internal/config"
)

func main() {
	kind := flag.String("kind", "client", "config kind: client|stub")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing client config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if *kind != "client" {
			log.Fatalf("validation is only supported for client configs; run posestub -config to check %s", *kind)
		}
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if _, err := config.LoadClientConfig(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "client":
		return "cmd/posectl/client.toml"
	case "stub":
		return "cmd/posestub/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}

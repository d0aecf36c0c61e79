package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/posewire/internal/logging"
	"github.com/danmuck/posewire/internal/posestub"
)

func main() {
	path := flag.String("config", "", "posestub TOML config (defaults when empty)")
	flag.Parse()

	logging.ConfigureRuntime()
	cfg := posestub.DefaultConfig()
	if *path != "" {
		loaded, err := loadServerConfig(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "posestub: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := posestub.NewServer(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "posestub: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/daemon"
	"github.com/matheus3301/relay/internal/instance"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default $RELAY_HOME/config.toml)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	name := instance.Resolve(*instanceFlag, cfg)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Instance: name, Config: cfg}),
	)

	app.Run()
}

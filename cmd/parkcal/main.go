package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"parkcal/internal/config"
	appLog "parkcal/internal/log"

	_ "time/tzdata"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "parkcal",
		Usage:   "Event parking calendar: fetch, classify and serve",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "/etc/parkcal/config.yaml",
				Usage:   "path to config file (created with defaults when missing)",
				EnvVars: []string{"PARKCAL_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			showCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("parkcal failed", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the config named by --config and applies
// its logging settings.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	appLog.Configure(os.Stderr, cfg.LogFormat, appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ticketbridge/cmd"
	"github.com/ticketbridge/internal/helpdesk"
)

const (
	version = "0.1.0"
)

func main() {
	helpdesk.Version = version

	app := &cli.App{
		Name:    "ticketbridge",
		Usage:   "Keeps chat support threads and helpdesk tickets in sync",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"TICKETBRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Human readable log output",
			},
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.MigrateCommand(),
			cmd.InstallCommand(),
			cmd.UninstallCommand(),
			cmd.SyncCommand(),
			cmd.TokenCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

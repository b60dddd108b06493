// sandboxctl is the admin tool for a sandbox pool process: "up" starts the
// pool and its control server, "status"/"warm"/"down" talk to a running
// "up" over HTTP, in the style of open-lambda's "ol worker"/"ol status"
// split between the long-running server and the short-lived admin CLI
// commands that poke at it.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var addrFlag = &cli.StringFlag{
	Name:    "addr",
	Aliases: []string{"a"},
	Usage:   "control-server address",
	Value:   "localhost:7777",
}

func main() {
	app := &cli.App{
		Name:  "sandboxctl",
		Usage: "admin tool for the sandbox pool",
		Commands: []*cli.Command{
			{
				Name:      "up",
				Usage:     "initialize the pool and serve /stats, /metrics, /warm until interrupted",
				UsageText: "sandboxctl up [--addr=HOST:PORT] [--config=PATH]",
				Flags: []cli.Flag{
					addrFlag,
					&cli.StringFlag{Name: "config", Usage: "YAML config override file"},
				},
				Action: upCmd,
			},
			{
				Name:      "status",
				Usage:     "print the pool's current stats",
				UsageText: "sandboxctl status [--addr=HOST:PORT] [--json] [--watch]",
				Flags: []cli.Flag{
					addrFlag,
					&cli.BoolFlag{Name: "json", Usage: "print stats as JSON instead of a one-line summary"},
					&cli.BoolFlag{Name: "watch", Usage: "launch the live TUI dashboard"},
				},
				Action: statusCmd,
			},
			{
				Name:      "warm",
				Usage:     "trigger a manual top-up of n sandboxes",
				UsageText: "sandboxctl warm N [--addr=HOST:PORT]",
				Flags:     []cli.Flag{addrFlag},
				Action:    warmCmd,
			},
			{
				Name:      "down",
				Usage:     "request a graceful shutdown of a running pool",
				UsageText: "sandboxctl down [--addr=HOST:PORT]",
				Flags:     []cli.Flag{addrFlag},
				Action:    downCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		log.Fatal(err)
	}
}

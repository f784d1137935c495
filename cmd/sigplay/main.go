// Command sigplay runs small demonstrations of signal delivery, errno behavior under
// interruption, and cooperative worker cancellation.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/sharnoff/sigplay"
)

func main() {
	app := &cli.App{
		Name:  "sigplay",
		Usage: "signal handling and worker lifecycle demonstrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"SIGPLAY_CONFIG"},
				Usage:   "TOML file with default settings",
			},
			&cli.StringFlag{
				Name:    "sa-flags",
				EnvVars: []string{"SIGPLAY_SA_FLAGS"},
				Usage:   "sigaction flags, one character each (see 'sigplay flags')",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"SIGPLAY_LOG_LEVEL"},
				Usage:   "trace, debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "log-format",
				EnvVars: []string{"SIGPLAY_LOG_FORMAT"},
				Usage:   "console or json",
			},
			&cli.BoolFlag{
				Name:    "metrics",
				EnvVars: []string{"SIGPLAY_METRICS"},
				Usage:   "log the collected counters before exiting",
			},
		},
		Commands: []*cli.Command{
			errnoLoopCommand(),
			errnoWorkersCommand(),
			signalWorkersCommand(),
			cancelCommand(),
			sendCommand(),
			flagsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func flagsCommand() *cli.Command {
	return &cli.Command{
		Name:  "flags",
		Usage: "list the sigaction flags accepted by --sa-flags",
		Action: func(c *cli.Context) error {
			fmt.Print(sigplay.DescribeAllFlags())
			return nil
		},
	}
}

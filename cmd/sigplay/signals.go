package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sharnoff/sigplay"
)

func signalWorkersCommand() *cli.Command {
	return &cli.Command{
		Name:      "signal-workers",
		Usage:     "run workers that wait for or sleep through the reserved signals, until SIGINT",
		ArgsUsage: "<w...|s...> [w...|s...]",
		Description: "The worker label prefix 'w' stands for \"Waiting\": the worker handles the\n" +
			"reserved signals synchronously. The prefix 's' stands for \"Sleeping\": the worker\n" +
			"only sleeps.\n\n" + sigplay.DescribeAllFlags(),
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:    "cycle-time",
				EnvVars: []string{"SIGPLAY_CYCLE_TIME"},
				Usage:   "seconds per wait or sleep",
			},
		},
		Action: signalWorkersAction,
	}
}

func signalWorkersAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	labels := c.Args().Slice()
	if len(labels) == 0 {
		labels = e.cfg.Workers
	}
	if len(labels) == 0 {
		return cli.Exit("no workers given", exitUsage)
	}

	reg := sigplay.NewRegistry(sigplay.DefaultCapacity,
		sigplay.WithRegistryLogger(e.log), sigplay.WithRegistryMetrics(e.metrics))

	cycle := e.cfg.CycleTime
	for _, label := range labels {
		var task sigplay.TaskFunc
		switch {
		case strings.HasPrefix(label, "w"):
			task = func(ctx context.Context, info *sigplay.Info) any {
				loop := sigplay.WaitLoop{
					Label:        info.Label,
					CycleSeconds: cycle,
					Waiter:       e.router,
					State:        e.state,
					Log:          &e.log,
					Metrics:      e.metrics,
				}
				sum, _ := loop.Run(ctx)
				info.Count = sum.Cycles
				return info
			}
		case strings.HasPrefix(label, "s"):
			task = func(ctx context.Context, info *sigplay.Info) any {
				loop := sigplay.SleepLoop{
					Label:        info.Label,
					CycleSeconds: cycle,
					Sleeper:      e.router,
					State:        e.state,
					Log:          &e.log,
					Metrics:      e.metrics,
				}
				sum, _ := loop.Run(ctx)
				info.Count = sum.Cycles
				return info
			}
		default:
			return cli.Exit(fmt.Sprintf("unrecognized worker %q: labels must start with 'w' or 's'", label), exitUsage)
		}

		if err := register(reg, label, task); err != nil {
			return err
		}
	}

	e.banner()
	sigplay.InstallHandlingLoopHandlers(e.router, e.state, e.flags)

	// only the waiting workers may consume the reserved signals
	e.router.Block(sigplay.HandlingLoopSignals())

	reg.StartAll(c.Context)
	reg.JoinAll(c.Context)

	e.log.Info().Uint64("activations", e.state.Activations()).
		Msgf("The signal handler executed %d times.", e.state.Activations())
	return nil
}

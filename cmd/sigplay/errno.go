package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sharnoff/sigplay"
)

func errnoLoopCommand() *cli.Command {
	return &cli.Command{
		Name:  "errno-loop",
		Usage: "repeat a failing mkdir(2) while signal handlers clobber errno, until SIGINT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Value: sigplay.DefaultMkdirPath,
				Usage: "directory to try to create; must fail with EACCES",
			},
		},
		Action: errnoLoopAction,
	}
}

func errnoLoopAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	if err := sigplay.CheckCloseEBADF(); err != nil {
		return cli.Exit(err.Error(), exitCloseEBADF)
	}
	e.log.Info().Msg("Got the expected EBADF from close(-1)")

	e.banner()
	sigplay.InstallErrnoLoopHandlers(e.router, e.state, e.flags)

	loop := sigplay.ErrnoLoop{
		Label:   "[main]",
		Op:      sigplay.MkdirOp(c.String("path")),
		State:   e.state,
		Log:     &e.log,
		Metrics: e.metrics,
	}
	if _, err := loop.Run(c.Context); err != nil {
		return err
	}

	e.log.Info().Uint64("activations", e.state.Activations()).
		Msgf("The signal handler executed %d times.", e.state.Activations())
	return nil
}

func errnoWorkersCommand() *cli.Command {
	return &cli.Command{
		Name:      "errno-workers",
		Usage:     "run the errno loop in several workers at once, until SIGINT",
		ArgsUsage: "<le...> [le...]",
		Description: "Each argument is the label of one worker and must start with 'le'.\n\n" +
			sigplay.DescribeAllFlags(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Value: sigplay.DefaultMkdirPath,
				Usage: "directory to try to create; must fail with EACCES",
			},
		},
		Action: errnoWorkersAction,
	}
}

func errnoWorkersAction(c *cli.Context) error {
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

	path := c.String("path")
	for _, label := range labels {
		if !strings.HasPrefix(label, "le") {
			return cli.Exit(fmt.Sprintf("unrecognized worker %q: labels must start with 'le'", label), exitUsage)
		}
		task := sigplay.TaskFunc(func(ctx context.Context, info *sigplay.Info) any {
			loop := sigplay.ErrnoLoop{
				Label:   info.Label,
				Op:      sigplay.MkdirOp(path),
				State:   e.state,
				Log:     &e.log,
				Metrics: e.metrics,
			}
			sum, _ := loop.Run(ctx)
			info.Count = sum.Calls
			return info
		})
		if err := register(reg, label, task); err != nil {
			return err
		}
	}

	if err := sigplay.CheckCloseEBADF(); err != nil {
		return cli.Exit(err.Error(), exitCloseEBADF)
	}

	e.banner()
	sigplay.InstallErrnoLoopHandlers(e.router, e.state, e.flags)

	reg.StartAll(c.Context)
	reg.JoinAll(c.Context)

	e.log.Info().Uint64("activations", e.state.Activations()).
		Msgf("The signal handler executed %d times.", e.state.Activations())
	return nil
}

// register adds a worker with default attributes, refusing labels that are already taken.
func register(reg *sigplay.Registry, label string, task sigplay.Task) error {
	if pos, ok := reg.FindByPrefix(label, sigplay.MaxLabelLen); ok {
		return cli.Exit(fmt.Sprintf("found worker %q at %d", label, pos), exitDuplicate)
	}
	if _, err := reg.Register(label, nil, task); err != nil {
		return cli.Exit(fmt.Sprintf("could not add worker %q: %s", label, err), exitRegister)
	}
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/sharnoff/sigplay"
)

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "start one sleeping worker, optionally cancel it, and join it",
		Description: "Cancellation state: d (disabled), e (enabled), n (don't set, use the default)\n" +
			"Cancellation type: a (asynchronous), d (deferred), n (don't set, use the default)\n" +
			"Cancellation request: sent unless --req=false",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "state", Value: "n", Usage: "cancellation state: d, e or n"},
			&cli.StringFlag{Name: "type", Value: "n", Usage: "cancellation type: a, d or n"},
			&cli.BoolFlag{Name: "req", Value: true, Usage: "send a cancellation request"},
			&cli.Uint64Flag{Name: "cycles", Value: 5, Usage: "number of sleeps the worker makes"},
			&cli.Float64Flag{Name: "cycle-time", Value: 2.9999999999, Usage: "seconds per sleep"},
			&cli.Float64Flag{Name: "main-sleep", Value: 4, Usage: "seconds to wait before sending the request"},
		},
		Action: cancelAction,
	}
}

type cancelOptions struct {
	state     byte
	typ       byte
	cycles    uint64
	cycleTime unix.Timeval
}

func oneChar(c *cli.Context, name string, allowed string) (byte, error) {
	v := c.String(name)
	if len(v) != 1 {
		return 0, cli.Exit(fmt.Sprintf("--%s should be one char (got %q)", name, v), exitUsage)
	}
	for i := 0; i < len(allowed); i += 1 {
		if allowed[i] == v[0] {
			return v[0], nil
		}
	}
	return 0, cli.Exit(fmt.Sprintf("--%s must be one of %q (got %q)", name, allowed, v), exitUsage)
}

func cancelAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	var opts cancelOptions
	if opts.state, err = oneChar(c, "state", "den"); err != nil {
		return err
	}
	if opts.typ, err = oneChar(c, "type", "adn"); err != nil {
		return err
	}
	opts.cycles = c.Uint64("cycles")
	if opts.cycleTime, err = sigplay.ToTimeval(c.Float64("cycle-time")); err != nil {
		return cli.Exit(err.Error(), exitBadConfig)
	}
	mainSleep, err := sigplay.ToTimeval(c.Float64("main-sleep"))
	if err != nil {
		return cli.Exit(err.Error(), exitBadConfig)
	}

	reg := sigplay.NewRegistry(1, sigplay.WithRegistryLogger(e.log), sigplay.WithRegistryMetrics(e.metrics))
	if _, err := reg.Register("sleeper", nil, sleeperTask(e, opts)); err != nil {
		return err
	}

	sum := reg.StartAll(c.Context)
	if sum.Failed != 0 {
		return cli.Exit("could not start the worker", exitRegister)
	}
	e.log.Info().Msg("Worker started.")

	if err := e.router.Sleep(c.Context, mainSleep); err != nil {
		e.log.Warn().Err(err).Msg("main sleep cut short")
	}

	if c.Bool("req") {
		if cs := reg.CancelAll(); cs.Failed != 0 {
			return cli.Exit("could not send the cancellation request", exitCancelFails)
		}
	}

	e.log.Info().Msg("Waiting for worker termination (join)...")
	js := reg.JoinAll(c.Context)
	for _, res := range js.Results {
		switch res.Outcome {
		case sigplay.OutcomeCanceled:
			e.log.Info().Msg("join: canceled")
		case sigplay.OutcomeNormal, sigplay.OutcomeUnexpectedValue:
			e.log.Info().Msg("join: normal exit")
		default:
			e.log.Info().Err(res.Err).Msg("join failed")
		}
	}
	return nil
}

func applyCancelOptions(e *env, info *sigplay.Info, opts cancelOptions) {
	switch opts.state {
	case 'd':
		info.SetCancelState(sigplay.CancelDisable)
		e.log.Info().Msg("Cancellation state: Disabled")
	case 'e':
		info.SetCancelState(sigplay.CancelEnable)
		e.log.Info().Msg("Cancellation state: Enabled")
	default:
		e.log.Info().Msg("Cancellation state: default (option=None); not changing it")
	}

	switch opts.typ {
	case 'a':
		e.log.Warn().Msg("Cancellation type: Async mode is not available, goroutines can only be canceled at cancellation points; using Deferred mode")
	case 'd':
		e.log.Info().Msg("Cancellation type: Deferred mode")
	default:
		e.log.Info().Msg("Cancellation type: default (option=None); Deferred mode")
	}
}

func sleeperTask(e *env, opts cancelOptions) sigplay.TaskFunc {
	return func(ctx context.Context, info *sigplay.Info) any {
		applyCancelOptions(e, info, opts)
		e.log.Info().Msgf("Cycle time: %s.", sigplay.FormatTimeval(opts.cycleTime))

		var intr, fail uint64
		for info.Count < opts.cycles {
			err := e.router.Sleep(ctx, opts.cycleTime)
			info.Count += 1

			switch {
			case err == nil:
				e.log.Info().Msgf("    [cycle %d / %d: OK]", info.Count, opts.cycles)
			case errors.Is(err, unix.EINTR):
				intr += 1
				e.log.Warn().Uint64("cycles", info.Count).Uint64("intr", intr).Uint64("fail", fail).
					Msg("sleep interrupted")
			case errors.Is(err, unix.EINVAL):
				e.log.Error().Msg("invalid timeout interval for sleep")
				sigplay.Exit(sigplay.ExitInvalidSleep)
				return info
			case ctx.Err() != nil:
				// canceled while sleeping
				info.TestCancel()
				return info
			default:
				fail += 1
				e.log.Warn().Err(err).Uint64("cycles", info.Count).Uint64("intr", intr).Uint64("fail", fail).
					Msg("unexpected error from sleep")
			}

			info.TestCancel()
		}

		info.SetMessage(fmt.Sprintf("finished after %d cycles, %d interrupted, %d failed", info.Count, intr, fail))
		e.log.Info().Uint64("cycles", info.Count).Uint64("intr", intr).Uint64("fail", fail).
			Msg("Sleeping loop finished")
		return info
	}
}

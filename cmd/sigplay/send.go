package main

import (
	"fmt"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/sharnoff/sigplay"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send bursts of a signal to a process, until SIGINT",
		ArgsUsage: "<pid> <signal>",
		Description: "The signal is a number or a name such as USR1, SIGRTMIN+2 or RTMAX-1.\n" +
			"Signals are sent with kill(2), so they carry no payload value.",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "burst", Value: 1, Usage: "signals per burst"},
			&cli.Float64Flag{Name: "delay", Value: 1, Usage: "seconds between bursts; 0 for none"},
			&cli.Uint64Flag{Name: "bursts", Usage: "stop after this many bursts; 0 for no limit"},
		},
		Action: sendAction,
	}
}

type sender struct {
	pid   int
	sig   syscall.Signal
	burst uint64

	calls uint64
	sent  uint64
}

// errRetry marks failures that may go away by themselves.
var errRetry = errors.New("can retry")

func (s *sender) sendBurst(e *env) error {
	for ix := uint64(0); ix < s.burst; ix += 1 {
		if stop := e.state.StopSignal(); stop != 0 {
			e.log.Info().Msgf("Burst stopped by signal %d after %d iterations; total %d calls, %d signals sent.",
				int(stop), ix, s.calls, s.sent)
			return nil
		}

		err := unix.Kill(s.pid, s.sig)
		s.calls += 1
		if err == nil {
			s.sent += 1
			continue
		}

		log := e.log.With().Uint64("ix", ix).Uint64("burst", s.burst).
			Uint64("calls", s.calls).Uint64("sent", s.sent).Logger()
		switch {
		case errors.Is(err, unix.EAGAIN):
			// expected now and then
			log.Info().Err(err).Msg("kill failed, can retry")
			return errRetry
		case errors.Is(err, unix.EINVAL), errors.Is(err, unix.EPERM), errors.Is(err, unix.ESRCH):
			log.Error().Err(err).Msg("kill failed")
			return err
		default:
			log.Error().Err(err).Msg("kill failed with unexpected error")
			return err
		}
	}
	return nil
}

func sendAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	if c.NArg() != 2 {
		return cli.Exit("expected <pid> <signal>", exitUsage)
	}
	pid, err := strconv.Atoi(c.Args().Get(0))
	if err != nil || pid <= 0 {
		return cli.Exit(fmt.Sprintf("pid must be a positive number, got %q", c.Args().Get(0)), exitUsage)
	}
	sig, err := sigplay.ParseSignal(c.Args().Get(1))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	var delay *unix.Timeval
	if d := c.Float64("delay"); d != 0 {
		tv, err := sigplay.ToTimeval(d)
		if err != nil {
			return cli.Exit(err.Error(), exitBadConfig)
		}
		delay = &tv
	}

	e.router.Handle(syscall.SIGINT, e.state.SoftStopHandler(), sigplay.FlagRestart)

	s := &sender{pid: pid, sig: sig, burst: c.Uint64("burst")}
	maxBursts := c.Uint64("bursts")
	e.log.Info().Int("pid", pid).Str("signal", sigplay.SignalName(sig)).Uint64("burst", s.burst).
		Msg("sending")

	var bursts uint64
	for !e.state.Stopped() && (maxBursts == 0 || bursts < maxBursts) {
		err := s.sendBurst(e)
		bursts += 1

		if err != nil && !errors.Is(err, errRetry) {
			e.log.Info().Msgf("Unlikely to work if we try again. Stopped after %d bursts; total %d calls, %d signals sent.",
				bursts, s.calls, s.sent)
			return cli.Exit(err.Error(), 1)
		}

		if delay != nil {
			if err := e.router.Sleep(c.Context, *delay); err != nil && !errors.Is(err, unix.EINTR) {
				return err
			}
		}
	}

	e.log.Info().Msgf("Stopped by signal %d after %d bursts; total %d calls, %d signals sent.",
		int(e.state.StopSignal()), bursts, s.calls, s.sent)
	return nil
}

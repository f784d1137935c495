package main

import (
	"fmt"
	"os"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/sharnoff/sigplay"
	"github.com/sharnoff/sigplay/internal/config"
)

// driver exit codes for bad arguments
const (
	exitUsage       = 2
	exitBadConfig   = 10
	exitDuplicate   = 6
	exitRegister    = 7
	exitCloseEBADF  = 5
	exitCancelFails = 12
)

// env is what every subcommand sets up before running.
type env struct {
	cfg   config.Config
	flags sigplay.Flags
	log   zerolog.Logger

	reg         *prom.Registry
	metrics     *sigplay.Metrics
	dumpMetrics bool

	router *sigplay.Router
	state  *sigplay.SignalState
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitBadConfig)
	}

	if c.IsSet("sa-flags") {
		cfg.SAFlags = c.String("sa-flags")
	}
	if c.IsSet("cycle-time") {
		cfg.CycleTime = c.Float64("cycle-time")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(err.Error(), exitBadConfig)
	}

	log, err := sigplay.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat == config.FormatConsole)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitBadConfig)
	}

	reg := prom.NewRegistry()
	metrics, err := sigplay.NewMetrics("sigplay", reg)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:         cfg,
		flags:       cfg.Flags(),
		log:         log,
		reg:         reg,
		metrics:     metrics,
		dumpMetrics: c.Bool("metrics"),
		router: sigplay.NewRouter(
			sigplay.WithRouterLogger(log),
			sigplay.WithRouterMetrics(metrics),
		),
		state: sigplay.DefaultState,
	}, nil
}

// banner shows what's needed to send signals to this process.
func (e *env) banner() {
	e.log.Info().
		Int("pid", os.Getpid()).
		Int("sigrtmin", int(sigplay.SIGRTMIN)).
		Int("sigrtmax", int(sigplay.SIGRTMAX)).
		Msgf("Pid = %d", os.Getpid())
	fmt.Print(e.flags.Describe())
	e.log.Info().
		Str("soft_stop", sigplay.SoftStopSignals().String()).
		Str("reserved", sigplay.HandlingLoopSignals().String()).
		Msg("signal sets")
}

func (e *env) close() {
	e.router.Stop()
	if e.dumpMetrics {
		e.logMetrics()
	}
}

func (e *env) logMetrics() {
	families, err := e.reg.Gather()
	if err != nil {
		e.log.Warn().Err(err).Msg("could not gather metrics")
		return
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			e.log.Info().
				Str("metric", mf.GetName()).
				Str("labels", strings.Join(labels, ",")).
				Float64("value", m.GetCounter().GetValue()).
				Msg("counter")
		}
	}
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/opd-ai/sealrelay"
	"github.com/opd-ai/sealrelay/config"
	"github.com/opd-ai/sealrelay/policy"
)

var (
	listenFlag = &cli.StringFlag{
		Name:    "listen",
		Usage:   "Websocket listen address; overrides listen",
		EnvVars: []string{"SEALRELAY_LISTEN"},
	}
	storeDriverFlag = &cli.StringFlag{
		Name:    "store",
		Usage:   "Event store driver (memory, postgres); overrides store.driver",
		EnvVars: []string{"SEALRELAY_STORE"},
	}
	dsnFlag = &cli.StringFlag{
		Name:    "dsn",
		Usage:   "PostgreSQL DSN; overrides store.dsn",
		EnvVars: []string{"SEALRELAY_DSN"},
	}
	metricsListenFlag = &cli.StringFlag{
		Name:    "metrics-listen",
		Usage:   "Prometheus listen address; overrides metrics.listen",
		EnvVars: []string{"SEALRELAY_METRICS_LISTEN"},
	}
	allowFlag = &cli.StringSliceFlag{
		Name:    "allow",
		Usage:   "Public key allowed to publish; enables allowlist mode",
		EnvVars: []string{"SEALRELAY_ALLOW"},
	}
	rateLimitFlag = &cli.BoolFlag{
		Name:    "rate-limit",
		Usage:   "Limit how fast each pubkey may publish",
		EnvVars: []string{"SEALRELAY_RATE_LIMIT"},
	}

	serveCommand = &cli.Command{
		Name:   "serve",
		Usage:  "Run the relay",
		Flags:  []cli.Flag{listenFlag, storeDriverFlag, dsnFlag, metricsListenFlag, allowFlag, rateLimitFlag},
		Action: runServe,
		Description: `
The serve command accepts websocket connections, admits signed events into
the configured store and fans them out to matching subscriptions. It stops
on SIGINT or SIGTERM.`,
	}
)

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := ctx.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if v := ctx.String(listenFlag.Name); v != "" {
		cfg.Listen = v
	}
	if v := ctx.String(storeDriverFlag.Name); v != "" {
		cfg.Store.Driver = v
	}
	if v := ctx.String(dsnFlag.Name); v != "" {
		cfg.Store.DSN = v
	}
	if v := ctx.String(metricsListenFlag.Name); v != "" {
		cfg.Metrics.Listen = v
	}
	if keys := ctx.StringSlice(allowFlag.Name); len(keys) > 0 {
		cfg.Auth.Mode = config.AuthAllowList
		cfg.Auth.Pubkeys = append(cfg.Auth.Pubkeys, keys...)
	}
	level, format := ctx.String(logLevelFlag.Name), ctx.String(logFormatFlag.Name)
	if level == "" {
		level = cfg.Log.Level
	}
	if format == "" {
		format = cfg.Log.Format
	}
	if err := configureLogging(level, format, nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []sealrelay.Option
	if ctx.Bool(rateLimitFlag.Name) {
		opts = append(opts, sealrelay.WithPublisherRateLimit(policy.DefaultLimits()))
	}
	node, err := sealrelay.New(runCtx, cfg, opts...)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "runServe",
		"listen":   cfg.Listen,
		"metrics":  cfg.Metrics.Listen,
	}).Info("Starting relay")
	return node.Run(runCtx)
}

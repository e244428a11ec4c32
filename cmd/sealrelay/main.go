// Command sealrelay runs a relay and offers client tools for private direct
// messages.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML config file",
		EnvVars: []string{"SEALRELAY_CONFIG"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error); overrides log.level",
		EnvVars: []string{"SEALRELAY_LOG_LEVEL"},
	}
	logFormatFlag = &cli.StringFlag{
		Name:    "log-format",
		Usage:   "Log format (text, json); overrides log.format",
		EnvVars: []string{"SEALRELAY_LOG_FORMAT"},
	}
)

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "sealrelay",
		Usage:  "event relay with sealed direct messages",
		Writer: out,
		Flags:  []cli.Flag{configFlag, logLevelFlag, logFormatFlag},
		Before: func(ctx *cli.Context) error {
			return configureLogging(ctx.String(logLevelFlag.Name), ctx.String(logFormatFlag.Name), ctx.App.ErrWriter)
		},
		Commands: []*cli.Command{
			serveCommand,
			keygenCommand,
			dmCommand,
		},
	}
}

// configureLogging sets the global logrus level and formatter. Empty values
// leave the current settings alone.
func configureLogging(level, format string, out io.Writer) error {
	if out != nil {
		logrus.SetOutput(out)
	}
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		logrus.SetLevel(lvl)
	}
	switch strings.ToLower(format) {
	case "":
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sealrelay: %v\n", err)
		os.Exit(1)
	}
}

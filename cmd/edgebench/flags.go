package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/edgebench/edgebench/internal/logger"
)

var (
	logLevel  string
	logFormat string
	debug     bool

	deviceHost string
	devicePort int64
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Usage:       "device server host",
			Value:       "127.0.0.1",
			Destination: &deviceHost,
		},
		&cli.Int64Flag{
			Name:        "port",
			Usage:       "device server port",
			Value:       15003,
			Destination: &devicePort,
		},
	}
}

// buildLogger constructs the logger the logging flags describe.
func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	if logFormat == "json" {
		return logger.JSON(os.Stderr, level)
	}
	return logger.Pretty(os.Stderr, level)
}

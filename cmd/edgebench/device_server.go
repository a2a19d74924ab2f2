package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/edgebench/edgebench/internal/backend"
	"github.com/edgebench/edgebench/internal/device"
	"github.com/edgebench/edgebench/internal/protocol"
)

func deviceServerCmd() *cli.Command {
	var (
		addr               string
		workingDir         string
		warmup             int64
		repeat             int64
		number             int64
		rebootAfterMeasure bool
		restartDelay       time.Duration
		runner             string
		readTimeout        time.Duration
	)

	return &cli.Command{
		Name:  "device-server",
		Usage: "Serve measurement jobs on the board hosting the NPU",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       ":15003",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "working-dir",
				Usage:       "root directory for per-job workspaces",
				Value:       "./working_dir",
				Destination: &workingDir,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "default discarded warmup passes per job",
				Value:       50,
				Destination: &warmup,
			},
			&cli.Int64Flag{
				Name:        "repeat",
				Usage:       "default measurement rounds per job",
				Value:       5,
				Destination: &repeat,
			},
			&cli.Int64Flag{
				Name:        "number",
				Usage:       "default passes timed per round",
				Value:       50,
				Destination: &number,
			},
			&cli.BoolFlag{
				Name:        "reboot-after-measure",
				Usage:       "reboot the board after every job for a clean device state",
				Destination: &rebootAfterMeasure,
			},
			&cli.DurationFlag{
				Name:        "restart-delay",
				Usage:       "delay between responding and rebooting",
				Value:       3 * time.Second,
				Destination: &restartDelay,
			},
			&cli.StringFlag{
				Name:        "runner",
				Usage:       "inference runner executable (empty runs the built-in stub)",
				Destination: &runner,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyLoggingConfig(cmd, cfg)
			applyDeviceServerConfig(cmd, cfg, &addr, &workingDir, &warmup, &repeat, &number)
			log := buildLogger()

			var runtime backend.Runtime
			if runner != "" {
				runtime = &backend.ExecRuntime{Path: runner}
			} else {
				log.Warn("no runner configured, using the stub runtime")
				runtime = &backend.StubRuntime{}
			}

			// The restart hook stops the listener before the reboot so
			// in-flight connections drain instead of being cut mid-write.
			ctx, shutdown := context.WithCancel(ctx)
			defer shutdown()

			server := device.NewServer(runtime, device.Config{
				WorkingDir: workingDir,
				Defaults: protocol.MeasureParams{
					Kind:   protocol.ArtifactRaw,
					Warmup: int(warmup),
					Repeat: int(repeat),
					Number: int(number),
				},
				RebootAfterMeasure: rebootAfterMeasure,
				RestartDelay:       restartDelay,
				Restart: func() {
					shutdown()
					device.Reboot(log)
				},
				Logger: log,
			})

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting device server",
				"address", addr,
				"working_dir", workingDir,
				"reboot_after_measure", rebootAfterMeasure)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

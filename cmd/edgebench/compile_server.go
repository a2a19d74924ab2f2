package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/edgebench/edgebench/internal/backend"
	"github.com/edgebench/edgebench/internal/client"
	"github.com/edgebench/edgebench/internal/compile"
	"github.com/edgebench/edgebench/internal/version"
)

func compileServerCmd() *cli.Command {
	var (
		addr          string
		workingDir    string
		compiler      string
		target        string
		allowFakeCal  bool
		deviceTimeout time.Duration
		readTimeout   time.Duration
	)

	return &cli.Command{
		Name:  "compile-server",
		Usage: "Serve model compilation for a downstream device server",
		Flags: append(append(loggingFlags(),
			&cli.StringFlag{
				Name:        "device-host",
				Usage:       "downstream device server host",
				Value:       "127.0.0.1",
				Destination: &deviceHost,
			},
			&cli.Int64Flag{
				Name:        "device-port",
				Usage:       "downstream device server port",
				Value:       15003,
				Destination: &devicePort,
			}),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       ":15004",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "working-dir",
				Usage:       "root directory for per-request workspaces",
				Value:       "./working_dir",
				Destination: &workingDir,
			},
			&cli.StringFlag{
				Name:        "compiler",
				Usage:       "device toolchain executable (empty runs the built-in stub)",
				Destination: &compiler,
			},
			&cli.StringFlag{
				Name:        "target",
				Usage:       "device target the toolchain compiles for",
				Value:       "npu",
				Destination: &target,
			},
			&cli.BoolFlag{
				Name:        "allow-fake-calibration",
				Usage:       "synthesize calibration data when a request carries none",
				Destination: &allowFakeCal,
			},
			&cli.DurationFlag{
				Name:        "device-timeout",
				Usage:       "timeout for relayed device server calls (0 means none)",
				Destination: &deviceTimeout,
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
			applyCompileServerConfig(cmd, cfg, &addr, &workingDir, &target, &compiler)
			log := buildLogger()

			var comp backend.Compiler
			if compiler != "" {
				comp = &backend.ExecCompiler{Path: compiler, Version: version.String()}
			} else {
				log.Warn("no compiler configured, using the stub toolchain")
				comp = &backend.StubCompiler{Version: "stub-" + version.String()}
			}

			svc := compile.NewService(comp, compile.ServiceConfig{
				WorkingDir:           workingDir,
				Target:               target,
				Device:               client.NewHostPort(deviceHost, int(devicePort), deviceTimeout),
				AllowFakeCalibration: allowFakeCal,
				Logger:               log,
			})
			server := compile.NewServer(svc)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting compilation server",
				"address", addr,
				"device_host", deviceHost,
				"device_port", devicePort,
				"target", target)
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

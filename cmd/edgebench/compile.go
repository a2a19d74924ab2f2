package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/edgebench/edgebench/internal/client"
)

func compileCmd() *cli.Command {
	var (
		modelPath       string
		calibrationPath string
		outputPath      string
		timeout         time.Duration
	)

	return &cli.Command{
		Name:  "compile",
		Usage: "Compile a model on a compilation server and save the bundle",
		Flags: append(append(loggingFlags(), deviceFlags()...),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to the model file",
				Required:    true,
				Destination: &modelPath,
			},
			&cli.StringFlag{
				Name:        "calibration",
				Aliases:     []string{"c"},
				Usage:       "path to a calibration zip",
				Destination: &calibrationPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "path to write the compiled bundle",
				Value:       "model_compiled.zip",
				Destination: &outputPath,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "compile request timeout",
				Value:       2 * time.Hour,
				Destination: &timeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyLoggingConfig(cmd, cfg)
			applyClientConfig(cmd, cfg)
			log := buildLogger()

			model, err := os.ReadFile(modelPath)
			if err != nil {
				return fmt.Errorf("read model: %w", err)
			}
			var calibration []byte
			if calibrationPath != "" {
				calibration, err = os.ReadFile(calibrationPath)
				if err != nil {
					return fmt.Errorf("read calibration: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			cl := client.NewHostPort(deviceHost, int(devicePort), 0)

			log.Info("compiling model",
				"host", deviceHost, "port", devicePort, "model", modelPath)
			artifact, err := cl.Compile(ctx, model, calibration)
			if err != nil {
				return err
			}

			if err := os.WriteFile(outputPath, artifact.Data, 0o644); err != nil {
				return fmt.Errorf("write bundle: %w", err)
			}
			log.Info("compiled bundle written",
				"path", outputPath,
				"bytes", len(artifact.Data),
				"target", artifact.Meta.Target,
				"compiler_version", artifact.Meta.CompilerVersion)
			return nil
		},
	}
}

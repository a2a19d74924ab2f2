package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/edgebench/edgebench/internal/client"
	"github.com/edgebench/edgebench/internal/logger"
	"github.com/edgebench/edgebench/internal/protocol"
)

func measureCmd() *cli.Command {
	var (
		modelPath       string
		calibrationPath string
		warmup          int64
		repeat          int64
		number          int64
		timeout         time.Duration
		retryBusy       time.Duration
		outputPath      string
	)

	return &cli.Command{
		Name:  "measure",
		Usage: "Measure inference latency of a model on a remote board",
		Description: "Without --calibration the model is uploaded to a device server as is\n" +
			"(the CPU path). With --calibration the target is a compilation server,\n" +
			"which compiles for the NPU first and relays the measurement.",
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
				Usage:       "path to a calibration zip (selects the NPU path)",
				Destination: &calibrationPath,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "discarded warmup passes (server default when omitted)",
				Destination: &warmup,
			},
			&cli.Int64Flag{
				Name:        "repeat",
				Usage:       "measurement rounds (server default when omitted)",
				Destination: &repeat,
			},
			&cli.Int64Flag{
				Name:        "number",
				Usage:       "passes timed per round (server default when omitted)",
				Destination: &number,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "overall request timeout",
				Value:       2 * time.Hour,
				Destination: &timeout,
			},
			&cli.DurationFlag{
				Name:        "retry-busy",
				Usage:       "keep retrying a busy device for this long (0 fails fast)",
				Destination: &retryBusy,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write the JSON result to this file instead of stdout",
				Destination: &outputPath,
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
			paramsJSON, err := measureParamsJSON(cmd, warmup, repeat, number)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			cl := client.NewHostPort(deviceHost, int(devicePort), 0)

			var result *protocol.MeasureResult
			if calibrationPath != "" {
				calibration, err := os.ReadFile(calibrationPath)
				if err != nil {
					return fmt.Errorf("read calibration: %w", err)
				}
				log.Info("measuring via compilation server",
					"host", deviceHost, "port", devicePort, "model", modelPath)
				result, err = withBusyRetry(ctx, log, retryBusy, func() (*protocol.MeasureResult, error) {
					return cl.MeasureModel(ctx, model, calibration, paramsJSON)
				})
				if err != nil {
					return err
				}
			} else {
				log.Info("measuring on device server",
					"host", deviceHost, "port", devicePort, "model", modelPath)
				result, err = withBusyRetry(ctx, log, retryBusy, func() (*protocol.MeasureResult, error) {
					return cl.MeasureArtifact(ctx, model, paramsJSON)
				})
				if err != nil {
					return err
				}
			}

			return writeResult(result, outputPath)
		},
	}
}

// measureParamsJSON serializes only the counts the user actually set,
// leaving the rest to the device server's defaults.
func measureParamsJSON(cmd *cli.Command, warmup, repeat, number int64) (string, error) {
	var patch protocol.MeasureParamsPatch
	if cmd.IsSet("warmup") {
		w := int(warmup)
		patch.Warmup = &w
	}
	if cmd.IsSet("repeat") {
		r := int(repeat)
		patch.Repeat = &r
	}
	if cmd.IsSet("number") {
		n := int(number)
		patch.Number = &n
	}
	if patch.Warmup == nil && patch.Repeat == nil && patch.Number == nil {
		return "", nil
	}
	data, err := protocol.EncodeJSON(patch)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// withBusyRetry re-issues the call while the remote device reports
// device_busy, until the retry window closes. Every other error fails
// immediately.
func withBusyRetry(ctx context.Context, log logger.Logger, window time.Duration, call func() (*protocol.MeasureResult, error)) (*protocol.MeasureResult, error) {
	const interval = 2 * time.Second

	deadline := time.Now().Add(window)
	for {
		result, err := call()
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, protocol.ErrDeviceBusy) || window <= 0 || time.Now().After(deadline) {
			return nil, err
		}
		// The last backoff is clamped so the window is never overshot.
		wait := interval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		log.Info("device busy, retrying", "interval", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func writeResult(result *protocol.MeasureResult, outputPath string) error {
	data, err := protocol.EncodeJSON(result)
	if err != nil {
		return err
	}
	if outputPath != "" {
		if err := os.WriteFile(outputPath, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	} else {
		fmt.Println(string(data))
	}
	fmt.Fprintf(os.Stderr, "mean latency: %.3f ms (std %.3f ms over %d rounds of %d passes)\n",
		result.MeanLatencyMs, result.StdLatencyMs, result.Repeat, result.Number)
	return nil
}

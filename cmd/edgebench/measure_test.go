package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/edgebench/edgebench/internal/logger"
	"github.com/edgebench/edgebench/internal/protocol"
)

func TestWithBusyRetry(t *testing.T) {
	log := logger.Default()
	busy := protocol.NewError(protocol.KindDeviceBusy, "device is busy")

	t.Run("retries until the device frees up", func(t *testing.T) {
		calls := 0
		res, err := withBusyRetry(context.Background(), log, 10*time.Second, func() (*protocol.MeasureResult, error) {
			calls++
			if calls < 2 {
				return nil, busy
			}
			return &protocol.MeasureResult{JobID: "ok"}, nil
		})
		if err != nil {
			t.Fatalf("withBusyRetry returned error: %v", err)
		}
		if res.JobID != "ok" || calls != 2 {
			t.Fatalf("unexpected outcome: result %+v after %d calls", res, calls)
		}
	})

	t.Run("fails fast when no window is given", func(t *testing.T) {
		calls := 0
		_, err := withBusyRetry(context.Background(), log, 0, func() (*protocol.MeasureResult, error) {
			calls++
			return nil, busy
		})
		if !errors.Is(err, protocol.ErrDeviceBusy) {
			t.Fatalf("expected device_busy, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected a single call, got %d", calls)
		}
	})

	t.Run("final backoff is clamped to the window", func(t *testing.T) {
		calls := 0
		start := time.Now()
		_, err := withBusyRetry(context.Background(), log, 100*time.Millisecond, func() (*protocol.MeasureResult, error) {
			calls++
			return nil, busy
		})
		if !errors.Is(err, protocol.ErrDeviceBusy) {
			t.Fatalf("expected device_busy, got %v", err)
		}
		if elapsed := time.Since(start); elapsed >= 2*time.Second {
			t.Fatalf("backoff overshot the retry window: %v", elapsed)
		}
		if calls != 2 {
			t.Fatalf("expected one retry inside the window, got %d calls", calls)
		}
	})

	t.Run("other errors are never retried", func(t *testing.T) {
		calls := 0
		_, err := withBusyRetry(context.Background(), log, 10*time.Second, func() (*protocol.MeasureResult, error) {
			calls++
			return nil, protocol.NewError(protocol.KindMeasurementFailed, "runner crashed")
		})
		if !errors.Is(err, protocol.ErrMeasurementFailed) {
			t.Fatalf("expected measurement_failed, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected a single call, got %d", calls)
		}
	})
}

// runMeasureParams drives measureParamsJSON through a real flag parse
// so IsSet reflects the given argv.
func runMeasureParams(t *testing.T, args ...string) string {
	t.Helper()

	var (
		warmup int64
		repeat int64
		number int64
		got    string
	)
	cmd := &cli.Command{
		Name: "params",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "warmup", Destination: &warmup},
			&cli.Int64Flag{Name: "repeat", Destination: &repeat},
			&cli.Int64Flag{Name: "number", Destination: &number},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var err error
			got, err = measureParamsJSON(cmd, warmup, repeat, number)
			return err
		},
	}
	if err := cmd.Run(context.Background(), append([]string{"params"}, args...)); err != nil {
		t.Fatalf("command run failed: %v", err)
	}
	return got
}

func TestMeasureParamsJSON(t *testing.T) {
	t.Run("omits everything when no flags are set", func(t *testing.T) {
		if got := runMeasureParams(t); got != "" {
			t.Fatalf("expected empty params, got %q", got)
		}
	})

	t.Run("carries only the set counts", func(t *testing.T) {
		got := runMeasureParams(t, "--repeat", "7")
		if !strings.Contains(got, `"repeat":7`) {
			t.Fatalf("repeat missing from params: %s", got)
		}
		for _, absent := range []string{"warmup", "number", "artifact_kind"} {
			if strings.Contains(got, absent) {
				t.Fatalf("params leaked unset field %s: %s", absent, got)
			}
		}
	})

	t.Run("zero values survive when set explicitly", func(t *testing.T) {
		got := runMeasureParams(t, "--warmup", "0", "--repeat", "3")
		if !strings.Contains(got, `"warmup":0`) {
			t.Fatalf("explicit zero warmup missing: %s", got)
		}
	})
}

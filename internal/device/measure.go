package device

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/edgebench/edgebench/internal/protocol"
)

// runJob executes the measurement procedure: warmup passes with
// discarded timings, then repeat rounds each timing number back-to-back
// passes as one wall-clock interval. Rounds run in order and never
// overlap; a backend failure anywhere fails the whole job with no
// partial result.
func (s *Server) runJob(ctx context.Context, job *Job) (*protocol.MeasureResult, error) {
	sess, err := s.runtime.Open(ctx, job.artifactPath)
	if err != nil {
		job.Status = StatusFailed
		return nil, protocol.NewError(protocol.KindInvalidArtifact, "open artifact: %v", err)
	}
	defer sess.Close()

	job.Status = StatusWarmingUp
	for i := 0; i < job.Params.Warmup; i++ {
		if _, err := sess.RunOnce(ctx); err != nil {
			job.Status = StatusFailed
			return nil, phaseError(err, protocol.PhaseWarmup)
		}
	}

	job.Status = StatusMeasuring
	samples := make([]float64, 0, job.Params.Repeat)
	for r := 0; r < job.Params.Repeat; r++ {
		start := time.Now()
		for n := 0; n < job.Params.Number; n++ {
			if _, err := sess.RunOnce(ctx); err != nil {
				job.Status = StatusFailed
				return nil, phaseError(err, protocol.PhaseMeasure)
			}
		}
		elapsed := time.Since(start)
		perPassMs := elapsed.Seconds() * 1000 / float64(job.Params.Number)
		samples = append(samples, perPassMs)
	}

	job.Status = StatusCompleted
	return &protocol.MeasureResult{
		JobID:         job.ID,
		MeanLatencyMs: mean(samples),
		StdLatencyMs:  sampleStdDev(samples),
		SamplesMs:     samples,
		Warmup:        job.Params.Warmup,
		Repeat:        job.Params.Repeat,
		Number:        job.Params.Number,
	}, nil
}

// phaseError tags a backend failure with the stage it happened in.
// Context expiry becomes the timeout kind so callers can tell an
// exhausted deadline from an engine fault.
func phaseError(err error, phase protocol.Phase) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.NewPhaseError(protocol.KindTimeout, protocol.PhaseTimeout, "deadline exceeded during %s", phase)
	}
	if errors.Is(err, context.Canceled) {
		return protocol.NewPhaseError(protocol.KindMeasurementFailed, phase, "job abandoned: %v", err)
	}
	return protocol.NewPhaseError(protocol.KindMeasurementFailed, phase, "%v", err)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev is the dispersion statistic reported alongside the mean.
// With a single round it is zero.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

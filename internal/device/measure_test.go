package device

import (
	"math"
	"testing"
)

func TestMean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		xs       []float64
		expected float64
	}{
		{nil, 0},
		{[]float64{2}, 2},
		{[]float64{1, 2, 3}, 2},
		{[]float64{0.5, 1.5}, 1},
	}
	for _, tc := range tests {
		if got := mean(tc.xs); math.Abs(got-tc.expected) > 1e-12 {
			t.Errorf("mean(%v): expected %f, got %f", tc.xs, tc.expected, got)
		}
	}
}

func TestSampleStdDev(t *testing.T) {
	t.Parallel()

	if got := sampleStdDev(nil); got != 0 {
		t.Fatalf("empty: expected 0, got %f", got)
	}
	if got := sampleStdDev([]float64{5}); got != 0 {
		t.Fatalf("single round: expected 0, got %f", got)
	}

	// Samples 2,4,4,4,5,5,7,9: sample variance 32/7.
	got := sampleStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	expected := math.Sqrt(32.0 / 7.0)
	if math.Abs(got-expected) > 1e-12 {
		t.Fatalf("expected %f, got %f", expected, got)
	}
}

func TestExclusivityStates(t *testing.T) {
	t.Parallel()

	x := NewExclusivity()
	if err := x.Acquire(); err != nil {
		t.Fatalf("idle acquire: %v", err)
	}
	if err := x.Acquire(); err == nil {
		t.Fatal("busy acquire should fail")
	}

	x.HandOffToRestart()
	if err := x.Acquire(); err == nil {
		t.Fatal("restarting acquire should fail")
	}
	// Release must not clear a restart hand-off.
	x.Release()
	if got := x.State(); got != "restarting" {
		t.Fatalf("release cleared restart state: %s", got)
	}

	x.Ready()
	if err := x.Acquire(); err != nil {
		t.Fatalf("acquire after ready: %v", err)
	}
	x.Release()
	if got := x.State(); got != "idle" {
		t.Fatalf("expected idle after release, got %s", got)
	}
}

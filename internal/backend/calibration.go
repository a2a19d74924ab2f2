package backend

import (
	"fmt"

	"github.com/edgebench/edgebench/internal/archive"
)

// FakeCalibration synthesizes a minimal calibration bundle when a
// client sent none and the server is configured to allow that. The
// model is opaque here, so each sample carries a single constant-filled
// dummy tensor; enough for the toolchain's basic accuracy level.
func FakeCalibration(n, tensorSize int) ([]archive.Sample, error) {
	if n < 1 {
		return nil, fmt.Errorf("fake calibration: need at least one sample, got %d", n)
	}
	if tensorSize < 1 {
		tensorSize = 1
	}

	samples := make([]archive.Sample, 0, n)
	for i := 1; i <= n; i++ {
		data := make([]byte, tensorSize)
		for j := range data {
			data[j] = byte(i)
		}
		samples = append(samples, archive.Sample{
			Name:    fmt.Sprintf("fake_calibration_%d.json", i),
			Tensors: map[string][]byte{"input": data},
		})
	}
	return samples, nil
}

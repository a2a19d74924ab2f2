// Package backend abstracts the inference engine and the device
// compiler toolchain. Both are opaque, time-bounded capabilities; the
// device and compilation servers are written against these interfaces
// and tested with the in-tree stub.
package backend

import (
	"context"
	"time"
)

// Runtime opens an artifact for inference. A file path is a raw
// portable model; a directory path is an extracted compiled-artifact
// bundle for NPU execution.
type Runtime interface {
	Open(ctx context.Context, artifactPath string) (Session, error)
}

// Session executes inference passes against one opened artifact.
type Session interface {
	// RunOnce performs a single inference pass and reports its elapsed
	// wall time as seen by the engine.
	RunOnce(ctx context.Context) (time.Duration, error)
	Close() error
}

// CompileSpec is the hand-off contract around the compiler black box.
type CompileSpec struct {
	// ModelPath is the raw model written to disk.
	ModelPath string
	// CalibrationDir holds one file per calibration sample.
	CalibrationDir string
	// OutputDir receives the device-specific artifact files.
	OutputDir string
	// Target identifies the device the artifact is compiled for.
	Target string
}

// CompileOutput describes a finished compilation.
type CompileOutput struct {
	Target          string
	CompilerVersion string
}

// Compiler performs ahead-of-time compilation of a model for a device.
type Compiler interface {
	Compile(ctx context.Context, spec CompileSpec) (CompileOutput, error)
}

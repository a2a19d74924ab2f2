package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StubRuntime fakes inference with a fixed per-pass delay. It validates
// artifact paths the way a real engine would (a file must be non-empty,
// a directory must contain at least one file) so malformed uploads
// still surface as open failures.
type StubRuntime struct {
	// Delay is the simulated pass duration. Zero means no sleep and a
	// reported duration of 1ms.
	Delay time.Duration
	// OpenErr, when set, fails every Open call.
	OpenErr error
	// RunErr, when set, fails every pass.
	RunErr error
	// FailAfter fails passes once this many have completed, when > 0.
	FailAfter int
}

func (r *StubRuntime) Open(ctx context.Context, artifactPath string) (Session, error) {
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	info, err := os.Stat(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("artifact path: %w", err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(artifactPath)
		if err != nil {
			return nil, fmt.Errorf("artifact dir: %w", err)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("artifact dir %s is empty", artifactPath)
		}
	} else if info.Size() == 0 {
		return nil, fmt.Errorf("artifact %s is empty", artifactPath)
	}
	return &stubSession{runtime: r}, nil
}

type stubSession struct {
	runtime *StubRuntime
	passes  int
	closed  bool
}

func (s *stubSession) RunOnce(ctx context.Context) (time.Duration, error) {
	if s.closed {
		return 0, fmt.Errorf("session closed")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.runtime.RunErr != nil {
		return 0, s.runtime.RunErr
	}
	if s.runtime.FailAfter > 0 && s.passes >= s.runtime.FailAfter {
		return 0, fmt.Errorf("engine fault after %d passes", s.passes)
	}
	s.passes++

	if s.runtime.Delay <= 0 {
		return time.Millisecond, nil
	}
	select {
	case <-time.After(s.runtime.Delay):
		return s.runtime.Delay, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

// StubCompiler fakes ahead-of-time compilation: it copies the model
// into the output directory alongside a marker binary, which is enough
// for a StubRuntime on the device side to accept the bundle.
type StubCompiler struct {
	Version string
	// Err, when set, fails every compile with this diagnostic.
	Err error
	// Calls counts Compile invocations, for ordering assertions.
	Calls int
}

func (c *StubCompiler) Compile(ctx context.Context, spec CompileSpec) (CompileOutput, error) {
	c.Calls++
	if c.Err != nil {
		return CompileOutput{}, c.Err
	}
	if err := ctx.Err(); err != nil {
		return CompileOutput{}, err
	}

	model, err := os.ReadFile(spec.ModelPath)
	if err != nil {
		return CompileOutput{}, fmt.Errorf("read model: %w", err)
	}
	if len(model) == 0 {
		return CompileOutput{}, fmt.Errorf("model is empty")
	}
	if err := os.WriteFile(filepath.Join(spec.OutputDir, "model.bin"), model, 0o644); err != nil {
		return CompileOutput{}, fmt.Errorf("write artifact: %w", err)
	}
	marker := fmt.Sprintf("target=%s\n", spec.Target)
	if err := os.WriteFile(filepath.Join(spec.OutputDir, "artifact.meta"), []byte(marker), 0o644); err != nil {
		return CompileOutput{}, fmt.Errorf("write artifact meta: %w", err)
	}

	version := c.Version
	if version == "" {
		version = "stub"
	}
	return CompileOutput{Target: spec.Target, CompilerVersion: version}, nil
}

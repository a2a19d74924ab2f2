package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeModel(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestStubRuntimeRunsPasses(t *testing.T) {
	t.Parallel()

	rt := &StubRuntime{}
	sess, err := rt.Open(context.Background(), writeModel(t, []byte("m")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sess.Close()

	for i := 0; i < 3; i++ {
		d, err := sess.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if d <= 0 {
			t.Fatalf("pass %d: non-positive duration %v", i, d)
		}
	}
}

func TestStubRuntimeRejectsEmptyModel(t *testing.T) {
	t.Parallel()

	rt := &StubRuntime{}
	if _, err := rt.Open(context.Background(), writeModel(t, nil)); err == nil {
		t.Fatal("expected open failure for empty model")
	}
}

func TestStubRuntimeRejectsMissingPath(t *testing.T) {
	t.Parallel()

	rt := &StubRuntime{}
	if _, err := rt.Open(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected open failure for missing path")
	}
}

func TestStubRuntimeFailAfter(t *testing.T) {
	t.Parallel()

	rt := &StubRuntime{FailAfter: 2}
	sess, err := rt.Open(context.Background(), writeModel(t, []byte("m")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sess.Close()

	for i := 0; i < 2; i++ {
		if _, err := sess.RunOnce(context.Background()); err != nil {
			t.Fatalf("pass %d should succeed: %v", i, err)
		}
	}
	if _, err := sess.RunOnce(context.Background()); err == nil {
		t.Fatal("expected third pass to fail")
	}
}

func TestStubRuntimeHonorsCancellation(t *testing.T) {
	t.Parallel()

	rt := &StubRuntime{Delay: time.Second}
	sess, err := rt.Open(context.Background(), writeModel(t, []byte("m")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := sess.RunOnce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStubCompilerProducesBundleDir(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	comp := &StubCompiler{Version: "1.2.3"}
	res, err := comp.Compile(context.Background(), CompileSpec{
		ModelPath:      writeModel(t, []byte("model-bytes")),
		CalibrationDir: t.TempDir(),
		OutputDir:      out,
		Target:         "tda4vm",
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if res.Target != "tda4vm" || res.CompilerVersion != "1.2.3" {
		t.Fatalf("unexpected output meta: %+v", res)
	}

	entries, err := os.ReadDir(out)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected artifact files in output dir: %v", err)
	}

	// A stub runtime must accept the produced bundle directory.
	rt := &StubRuntime{}
	sess, err := rt.Open(context.Background(), out)
	if err != nil {
		t.Fatalf("open compiled bundle: %v", err)
	}
	_ = sess.Close()
}

func TestStubCompilerCountsCalls(t *testing.T) {
	t.Parallel()

	comp := &StubCompiler{Err: errors.New("toolchain exploded")}
	_, err := comp.Compile(context.Background(), CompileSpec{})
	if err == nil {
		t.Fatal("expected configured failure")
	}
	if comp.Calls != 1 {
		t.Fatalf("expected 1 call, got %d", comp.Calls)
	}
}

func TestFakeCalibration(t *testing.T) {
	t.Parallel()

	samples, err := FakeCalibration(2, 8)
	if err != nil {
		t.Fatalf("fake calibration: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	for _, s := range samples {
		if len(s.Tensors["input"]) != 8 {
			t.Fatalf("sample %s: wrong tensor size", s.Name)
		}
	}

	if _, err := FakeCalibration(0, 8); err == nil {
		t.Fatal("expected rejection of zero samples")
	}
}

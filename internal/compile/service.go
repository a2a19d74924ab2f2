// Package compile implements the compilation server: a stateless
// compiler front-end that turns portable models into device bundles and
// relays measurement jobs to its configured device server.
package compile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/edgebench/edgebench/internal/archive"
	"github.com/edgebench/edgebench/internal/backend"
	"github.com/edgebench/edgebench/internal/client"
	"github.com/edgebench/edgebench/internal/logger"
	"github.com/edgebench/edgebench/internal/protocol"
)

// ServiceConfig configures the compilation service.
type ServiceConfig struct {
	// WorkingDir is the root each compile request gets a directory
	// under; reclaimed when the request finishes.
	WorkingDir string
	// Target is the device the toolchain compiles for.
	Target string
	// Device talks to the downstream device server. Required for
	// CompileAndMeasure; compile-only service may leave it nil.
	Device *client.Client
	// AllowFakeCalibration synthesizes minimal calibration data when a
	// request carries none, instead of rejecting it.
	AllowFakeCalibration bool
	// FakeSamples is how many synthetic samples to generate.
	FakeSamples int
	// Logger defaults to logger.Default().
	Logger logger.Logger
}

// Bundle is a compiled artifact ready to ship to a device server.
type Bundle struct {
	Data []byte
	Meta protocol.CompiledMeta
}

// Service orchestrates compile requests. Compilation is stateless per
// request and may run concurrently; the downstream device connection is
// a single-capacity resource guarded by gate.
type Service struct {
	comp backend.Compiler
	cfg  ServiceConfig
	gate chan struct{}
	log  logger.Logger
}

func NewService(comp backend.Compiler, cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	if cfg.FakeSamples <= 0 {
		cfg.FakeSamples = 2
	}
	return &Service{
		comp: comp,
		cfg:  cfg,
		gate: make(chan struct{}, 1),
		log:  log.With("component", "compile-server"),
	}
}

// Compile validates the calibration bundle, invokes the toolchain, and
// packs the produced artifact directory. Validation happens before any
// toolchain invocation; a backend failure surfaces as compile_failed
// with the toolchain's diagnostic attached, never as a silent fallback
// to an uncompiled path.
func (s *Service) Compile(ctx context.Context, model, calibration []byte) (*Bundle, error) {
	if len(model) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidArtifact, "empty model payload")
	}

	samples, err := s.resolveCalibration(calibration)
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(s.cfg.WorkingDir, "compile-"+uuid.NewString())
	defer os.RemoveAll(workDir)

	spec, err := stageRequest(workDir, model, samples, s.cfg.Target)
	if err != nil {
		return nil, err
	}

	s.log.Info("compiling model", "bytes", len(model), "samples", len(samples), "target", s.cfg.Target)
	out, err := s.comp.Compile(ctx, spec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.NewPhaseError(protocol.KindTimeout, protocol.PhaseTimeout, "compilation exceeded its deadline")
		}
		return nil, protocol.NewPhaseError(protocol.KindCompileFailed, protocol.PhaseCompile, "%v", err)
	}

	data, err := archive.PackDir(spec.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("pack artifacts: %w", err)
	}
	return &Bundle{
		Data: data,
		Meta: protocol.CompiledMeta{Target: out.Target, CompilerVersion: out.CompilerVersion},
	}, nil
}

// CompileAndMeasure is the composed NPU-path operation. It holds no
// device-exclusivity state of its own: device_busy from downstream is
// relayed to the client unchanged rather than retried, so device
// unavailability is never masked.
func (s *Service) CompileAndMeasure(ctx context.Context, model, calibration []byte, paramsJSON string) (*protocol.MeasureResult, error) {
	if s.cfg.Device == nil {
		return nil, protocol.NewError(protocol.KindDeviceUnavailable, "no device server configured")
	}

	bundle, err := s.Compile(ctx, model, calibration)
	if err != nil {
		return nil, err
	}

	// At most one in-flight measure call per device server; a second
	// request fails fast instead of queueing behind an unknown wait.
	select {
	case s.gate <- struct{}{}:
		defer func() { <-s.gate }()
	default:
		return nil, protocol.NewError(protocol.KindDeviceBusy, "device connection already in use")
	}

	paramsJSON, err = forceCompiledKind(paramsJSON)
	if err != nil {
		return nil, err
	}
	return s.cfg.Device.MeasureArtifact(ctx, bundle.Data, paramsJSON)
}

func (s *Service) resolveCalibration(calibration []byte) ([]archive.Sample, error) {
	if len(calibration) == 0 && s.cfg.AllowFakeCalibration {
		return backend.FakeCalibration(s.cfg.FakeSamples, 16)
	}
	return archive.LoadCalibration(calibration)
}

// stageRequest lays out a compile working directory: the model file,
// the extracted calibration samples, and an empty artifacts dir.
func stageRequest(workDir string, model []byte, samples []archive.Sample, target string) (backend.CompileSpec, error) {
	calibDir := filepath.Join(workDir, "calibration_data")
	outDir := filepath.Join(workDir, "artifacts")
	for _, dir := range []string{calibDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return backend.CompileSpec{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	modelPath := filepath.Join(workDir, "model.onnx")
	if err := os.WriteFile(modelPath, model, 0o644); err != nil {
		return backend.CompileSpec{}, fmt.Errorf("write model: %w", err)
	}
	if err := archive.WriteSamples(calibDir, samples); err != nil {
		return backend.CompileSpec{}, err
	}

	return backend.CompileSpec{
		ModelPath:      modelPath,
		CalibrationDir: calibDir,
		OutputDir:      outDir,
		Target:         target,
	}, nil
}

// forceCompiledKind rewrites the relayed params so the device server
// treats the payload as a compiled bundle whatever the client declared,
// while leaving omitted counts omitted.
func forceCompiledKind(paramsJSON string) (string, error) {
	var patch protocol.MeasureParamsPatch
	if paramsJSON != "" {
		decoded, err := protocol.DecodeJSON[protocol.MeasureParamsPatch](strings.NewReader(paramsJSON))
		if err != nil {
			return "", protocol.NewError(protocol.KindInvalidRequest, "params: %v", err)
		}
		patch = decoded
	}
	kind := protocol.ArtifactCompiled
	patch.Kind = &kind

	data, err := protocol.EncodeJSON(patch)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

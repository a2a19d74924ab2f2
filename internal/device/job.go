package device

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/edgebench/edgebench/internal/archive"
	"github.com/edgebench/edgebench/internal/protocol"
)

// Status is a measurement job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusWarmingUp Status = "warming-up"
	StatusMeasuring Status = "measuring"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the unit of work on a device server: one artifact, one set of
// sampling parameters, one working directory that lives exactly as long
// as the job does.
type Job struct {
	ID        string
	Params    protocol.MeasureParams
	Status    Status
	Dir       string
	CreatedAt time.Time

	// artifactPath is what the runtime opens: a file for a raw model,
	// a directory for an extracted compiled bundle.
	artifactPath string
}

const rawModelFile = "model.onnx"

// newJob creates the job and its working directory under root.
func newJob(root string, params protocol.MeasureParams) (*Job, error) {
	id := uuid.NewString()
	dir := filepath.Join(root, "job-"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}
	return &Job{
		ID:        id,
		Params:    params,
		Status:    StatusQueued,
		Dir:       dir,
		CreatedAt: time.Now(),
	}, nil
}

// materialize writes the artifact payload into the working directory.
// The payload must agree with the declared kind: compiled bundles are
// zip archives, raw models are anything but.
func (j *Job) materialize(payload []byte) error {
	if len(payload) == 0 {
		return protocol.NewError(protocol.KindInvalidArtifact, "empty artifact payload")
	}

	switch j.Params.Kind {
	case protocol.ArtifactCompiled:
		if !archive.IsZip(payload) {
			return protocol.NewError(protocol.KindInvalidArtifact, "compiled artifact must be a zip bundle")
		}
		bundleDir := filepath.Join(j.Dir, "artifacts")
		if err := os.MkdirAll(bundleDir, 0o755); err != nil {
			return fmt.Errorf("create bundle dir: %w", err)
		}
		n, err := archive.Extract(payload, bundleDir)
		if err != nil {
			return protocol.NewError(protocol.KindInvalidArtifact, "extract bundle: %v", err)
		}
		if n == 0 {
			return protocol.NewError(protocol.KindInvalidArtifact, "compiled bundle is empty")
		}
		j.artifactPath = bundleDir
	case protocol.ArtifactRaw:
		if archive.IsZip(payload) {
			return protocol.NewError(protocol.KindInvalidArtifact, "raw model payload is a zip bundle; declare it compiled")
		}
		path := filepath.Join(j.Dir, rawModelFile)
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return fmt.Errorf("write model: %w", err)
		}
		j.artifactPath = path
	default:
		return protocol.NewError(protocol.KindInvalidRequest, "unknown artifact kind %q", j.Params.Kind)
	}
	return nil
}

// cleanup reclaims the working directory.
func (j *Job) cleanup() {
	_ = os.RemoveAll(j.Dir)
}

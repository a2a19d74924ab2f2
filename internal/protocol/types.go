package protocol

// ArtifactKind says how a device server should execute an uploaded
// payload: a raw portable model, or a bundle the compiler produced for
// the device's NPU.
type ArtifactKind string

const (
	ArtifactRaw      ArtifactKind = "raw"
	ArtifactCompiled ArtifactKind = "compiled"
)

// Routes shared by the device and compilation servers.
const (
	RouteMeasure = "/v1/measure"
	RouteCompile = "/v1/compile"
	RouteStatus  = "/v1/status"
)

// Multipart field names for artifact-carrying requests.
const (
	FieldArtifact    = "artifact"
	FieldModel       = "model"
	FieldCalibration = "calibration"
	FieldParams      = "params"
)

// Response headers carrying compiled-artifact metadata.
const (
	HeaderTarget          = "X-Edgebench-Target"
	HeaderCompilerVersion = "X-Edgebench-Compiler-Version"
)

// MeasureParams are the sampling counts for one measurement job.
// Warmup passes are discarded; each of the Repeat rounds times Number
// back-to-back passes as a single wall-clock interval.
type MeasureParams struct {
	Kind   ArtifactKind `json:"artifact_kind"`
	Warmup int          `json:"warmup"`
	Repeat int          `json:"repeat"`
	Number int          `json:"number"`
}

// Validate rejects parameter combinations the measurement loop cannot
// produce a stable estimate from.
func (p MeasureParams) Validate() error {
	if p.Kind != ArtifactRaw && p.Kind != ArtifactCompiled {
		return NewError(KindInvalidRequest, "artifact_kind must be %q or %q, got %q", ArtifactRaw, ArtifactCompiled, p.Kind)
	}
	if p.Warmup < 0 {
		return NewError(KindInvalidRequest, "warmup must be >= 0, got %d", p.Warmup)
	}
	if p.Repeat < 1 {
		return NewError(KindInvalidRequest, "repeat must be >= 1, got %d", p.Repeat)
	}
	if p.Number < 1 {
		return NewError(KindInvalidRequest, "number must be >= 1, got %d", p.Number)
	}
	return nil
}

// MeasureParamsPatch is the wire form of the params part: pointer
// fields distinguish omitted counts from zero values, so requests only
// override what they actually carry and relays can forward a client's
// params without inventing the rest.
type MeasureParamsPatch struct {
	Kind   *ArtifactKind `json:"artifact_kind,omitempty"`
	Warmup *int          `json:"warmup,omitempty"`
	Repeat *int          `json:"repeat,omitempty"`
	Number *int          `json:"number,omitempty"`
}

// Apply overlays the patch on base and returns the result.
func (p MeasureParamsPatch) Apply(base MeasureParams) MeasureParams {
	if p.Kind != nil {
		base.Kind = *p.Kind
	}
	if p.Warmup != nil {
		base.Warmup = *p.Warmup
	}
	if p.Repeat != nil {
		base.Repeat = *p.Repeat
	}
	if p.Number != nil {
		base.Number = *p.Number
	}
	return base
}

// MeasureResult is the aggregated outcome of one completed job.
// SamplesMs holds exactly Repeat per-round averages; dispersion is the
// sample standard deviation of those rounds.
type MeasureResult struct {
	JobID         string    `json:"job_id"`
	MeanLatencyMs float64   `json:"mean_latency_ms"`
	StdLatencyMs  float64   `json:"std_latency_ms"`
	SamplesMs     []float64 `json:"samples_ms"`
	Warmup        int       `json:"warmup"`
	Repeat        int       `json:"repeat"`
	Number        int       `json:"number"`
}

// DeviceState is the exclusivity state a device server reports.
type DeviceState string

const (
	DeviceIdle       DeviceState = "idle"
	DeviceBusy       DeviceState = "busy"
	DeviceRestarting DeviceState = "restarting"
)

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	State DeviceState `json:"state"`
}

// CompiledMeta describes a compiled-artifact bundle.
type CompiledMeta struct {
	Target          string `json:"target"`
	CompilerVersion string `json:"compiler_version"`
}

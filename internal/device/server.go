package device

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/edgebench/edgebench/internal/archive"
	"github.com/edgebench/edgebench/internal/backend"
	"github.com/edgebench/edgebench/internal/logger"
	"github.com/edgebench/edgebench/internal/protocol"
)

// sniffKind guesses the artifact kind when a request omits it: compiled
// bundles are zip archives, anything else is a raw model.
func sniffKind(payload []byte) protocol.ArtifactKind {
	if archive.IsZip(payload) {
		return protocol.ArtifactCompiled
	}
	return protocol.ArtifactRaw
}

// Config configures a device server.
type Config struct {
	// WorkingDir is the root every job gets a fresh directory under.
	WorkingDir string
	// Defaults fill in sampling counts a request omits.
	Defaults protocol.MeasureParams
	// RebootAfterMeasure hands the device off to a restart after every
	// job, guaranteeing a clean device state for the next one.
	RebootAfterMeasure bool
	// RestartDelay is how long after a job the restart fires.
	RestartDelay time.Duration
	// Restart performs the actual restart (process exit + reboot). Left
	// nil, the handle moves to restarting and stays there until Ready.
	Restart func()
	// Logger defaults to logger.Default().
	Logger logger.Logger
}

// Server owns the single constrained device and serializes measurement
// jobs against it.
type Server struct {
	runtime backend.Runtime
	excl    *Exclusivity
	cfg     Config
	log     logger.Logger
}

func NewServer(runtime backend.Runtime, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 3 * time.Second
	}
	return &Server{
		runtime: runtime,
		excl:    NewExclusivity(),
		cfg:     cfg,
		log:     log.With("component", "device-server"),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST(protocol.RouteMeasure, s.handleMeasure)
	e.GET(protocol.RouteStatus, s.handleStatus)
}

// Exclusivity exposes the device handle, mainly so a hosting process
// can report readiness after a restart.
func (s *Server) Exclusivity() *Exclusivity {
	return s.excl
}

func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, protocol.StatusResponse{State: s.excl.State()})
}

func (s *Server) handleMeasure(c *echo.Context) error {
	// The exclusivity handle is taken before the payload is even read:
	// rejecting a busy device must not depend on upload size.
	if err := s.excl.Acquire(); err != nil {
		return s.respondError(c, err, protocol.KindDeviceUnavailable)
	}

	payload, params, err := s.decodeMeasureRequest(c)
	if err != nil {
		s.excl.Release()
		return s.respondError(c, err, protocol.KindInvalidRequest)
	}

	job, err := newJob(s.cfg.WorkingDir, params)
	if err != nil {
		s.excl.Release()
		return s.respondError(c, err, protocol.KindMeasurementFailed)
	}
	defer job.cleanup()

	log := s.log.With("job", job.ID, "kind", string(params.Kind))
	log.Info("job accepted", "warmup", params.Warmup, "repeat", params.Repeat, "number", params.Number)

	if err := job.materialize(payload); err != nil {
		job.Status = StatusFailed
		s.finishJob(job)
		return s.respondError(c, err, protocol.KindInvalidArtifact)
	}

	result, err := s.runJob(c.Request().Context(), job)
	s.finishJob(job)
	if err != nil {
		log.Error("job failed", "error", err)
		return s.respondError(c, err, protocol.KindMeasurementFailed)
	}

	log.Info("job completed", "mean_ms", result.MeanLatencyMs, "std_ms", result.StdLatencyMs)
	return c.JSON(http.StatusOK, result)
}

// finishJob releases device exclusivity, or hands it off to a restart
// when reboot-after-measure is on. The restart fires for failed jobs
// too: a crashed engine is exactly when a clean slate matters.
func (s *Server) finishJob(job *Job) {
	if !s.cfg.RebootAfterMeasure {
		s.excl.Release()
		return
	}

	s.excl.HandOffToRestart()
	s.log.Info("restarting after job", "job", job.ID, "delay", s.cfg.RestartDelay)
	if s.cfg.Restart != nil {
		restart := s.cfg.Restart
		time.AfterFunc(s.cfg.RestartDelay, restart)
	}
}

func (s *Server) decodeMeasureRequest(c *echo.Context) ([]byte, protocol.MeasureParams, error) {
	r := c.Request()

	file, _, err := r.FormFile(protocol.FieldArtifact)
	if err != nil {
		return nil, protocol.MeasureParams{}, protocol.NewPhaseError(protocol.KindInvalidRequest, protocol.PhaseTransfer, "missing %q part: %v", protocol.FieldArtifact, err)
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return nil, protocol.MeasureParams{}, protocol.NewPhaseError(protocol.KindInvalidRequest, protocol.PhaseTransfer, "read artifact: %v", err)
	}

	params, err := s.resolveParams(r.FormValue(protocol.FieldParams), payload)
	if err != nil {
		return nil, protocol.MeasureParams{}, err
	}
	return payload, params, nil
}

func (s *Server) resolveParams(raw string, payload []byte) (protocol.MeasureParams, error) {
	params := s.cfg.Defaults
	params.Kind = sniffKind(payload)

	if raw != "" {
		patch, err := protocol.DecodeJSON[protocol.MeasureParamsPatch](strings.NewReader(raw))
		if err != nil {
			return params, protocol.NewError(protocol.KindInvalidRequest, "params: %v", err)
		}
		params = patch.Apply(params)
	}

	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

func (s *Server) respondError(c *echo.Context, err error, fallback protocol.Kind) error {
	perr := protocol.AsError(err, fallback)
	return c.JSON(protocol.HTTPStatus(perr.Kind), protocol.ErrorEnvelope{Error: perr})
}

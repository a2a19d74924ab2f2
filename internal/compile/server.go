package compile

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/edgebench/edgebench/internal/protocol"
)

// Server is the HTTP surface of the compilation service.
type Server struct {
	svc *Service
}

func NewServer(svc *Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST(protocol.RouteCompile, s.handleCompile)
	e.POST(protocol.RouteMeasure, s.handleMeasure)
}

func (s *Server) handleCompile(c *echo.Context) error {
	model, err := readPart(c, protocol.FieldModel, true)
	if err != nil {
		return s.respondError(c, err)
	}
	calibration, err := readPart(c, protocol.FieldCalibration, false)
	if err != nil {
		return s.respondError(c, err)
	}

	bundle, err := s.svc.Compile(c.Request().Context(), model, calibration)
	if err != nil {
		return s.respondError(c, err)
	}

	c.Response().Header().Set(protocol.HeaderTarget, bundle.Meta.Target)
	c.Response().Header().Set(protocol.HeaderCompilerVersion, bundle.Meta.CompilerVersion)
	return c.Blob(http.StatusOK, "application/octet-stream", bundle.Data)
}

func (s *Server) handleMeasure(c *echo.Context) error {
	model, err := readPart(c, protocol.FieldModel, true)
	if err != nil {
		return s.respondError(c, err)
	}
	calibration, err := readPart(c, protocol.FieldCalibration, false)
	if err != nil {
		return s.respondError(c, err)
	}
	paramsJSON := c.Request().FormValue(protocol.FieldParams)

	result, err := s.svc.CompileAndMeasure(c.Request().Context(), model, calibration, paramsJSON)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func readPart(c *echo.Context, field string, required bool) ([]byte, error) {
	file, _, err := c.Request().FormFile(field)
	if err != nil {
		if !required {
			return nil, nil
		}
		return nil, protocol.NewPhaseError(protocol.KindInvalidRequest, protocol.PhaseTransfer, "missing %q part: %v", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, protocol.NewPhaseError(protocol.KindInvalidRequest, protocol.PhaseTransfer, "read %q part: %v", field, err)
	}
	return data, nil
}

// respondError passes a downstream kind through unchanged and maps
// local failures to compile_failed, preserving the error taxonomy
// end to end.
func (s *Server) respondError(c *echo.Context, err error) error {
	perr := protocol.AsError(err, protocol.KindCompileFailed)
	return c.JSON(protocol.HTTPStatus(perr.Kind), protocol.ErrorEnvelope{Error: perr})
}

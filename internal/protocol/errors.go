package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a protocol failure. Servers are authoritative for the
// kinds they emit; relays must pass an inbound kind through unchanged.
type Kind string

const (
	KindInvalidRequest         Kind = "invalid_request"
	KindInvalidArtifact        Kind = "invalid_artifact"
	KindInvalidCalibrationData Kind = "invalid_calibration_data"
	KindCompileFailed          Kind = "compile_failed"
	KindDeviceBusy             Kind = "device_busy"
	KindDeviceUnavailable      Kind = "device_unavailable"
	KindMeasurementFailed      Kind = "measurement_failed"
	KindTimeout                Kind = "timeout"
)

// Phase names the stage a failure occurred in, so a bad model can be
// told apart from a busy or rebooting device.
type Phase string

const (
	PhaseCompile  Phase = "compile"
	PhaseTransfer Phase = "transfer"
	PhaseWarmup   Phase = "warmup"
	PhaseMeasure  Phase = "measure"
	PhaseTimeout  Phase = "timeout"
)

// Sentinels for errors.Is checks against a decoded remote error.
var (
	ErrInvalidRequest         = errors.New("invalid_request")
	ErrInvalidArtifact        = errors.New("invalid_artifact")
	ErrInvalidCalibrationData = errors.New("invalid_calibration_data")
	ErrCompileFailed          = errors.New("compile_failed")
	ErrDeviceBusy             = errors.New("device_busy")
	ErrDeviceUnavailable      = errors.New("device_unavailable")
	ErrMeasurementFailed      = errors.New("measurement_failed")
	ErrTimeout                = errors.New("timeout")
)

var kindSentinels = map[Kind]error{
	KindInvalidRequest:         ErrInvalidRequest,
	KindInvalidArtifact:        ErrInvalidArtifact,
	KindInvalidCalibrationData: ErrInvalidCalibrationData,
	KindCompileFailed:          ErrCompileFailed,
	KindDeviceBusy:             ErrDeviceBusy,
	KindDeviceUnavailable:      ErrDeviceUnavailable,
	KindMeasurementFailed:      ErrMeasurementFailed,
	KindTimeout:                ErrTimeout,
}

// Error is the wire-visible failure record shared by all three roles.
type Error struct {
	Kind    Kind   `json:"kind"`
	Phase   Phase  `json:"phase,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	switch {
	case e.Phase != "" && e.Message != "":
		return fmt.Sprintf("%s (phase %s): %s", e.Kind, e.Phase, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Phase != "":
		return fmt.Sprintf("%s (phase %s)", e.Kind, e.Phase)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		return sentinel
	}
	return nil
}

// NewError builds a phase-less protocol error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewPhaseError builds a protocol error tagged with the failing stage.
func NewPhaseError(kind Kind, phase Phase, format string, args ...any) *Error {
	return &Error{Kind: kind, Phase: phase, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from err, or wraps err as a fallback kind
// so no failure is ever downgraded to a success or a bare string.
func AsError(err error, fallback Kind) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: fallback, Message: err.Error()}
}

// ErrorEnvelope is the JSON body carried by non-2xx responses.
type ErrorEnvelope struct {
	Error *Error `json:"error"`
}

// HTTPStatus maps an error kind to its transport status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidRequest, KindInvalidArtifact, KindInvalidCalibrationData:
		return http.StatusBadRequest
	case KindDeviceBusy:
		return http.StatusConflict
	case KindDeviceUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

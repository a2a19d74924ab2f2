// Package client is the measurement/compile driver all three roles
// share: the CLI uses it against either server, and the compilation
// server uses it to forward compiled bundles to its device server.
//
// Every call is one synchronous request. Remote errors are surfaced
// exactly as the server reported them; the client applies no retry
// policy of its own, so retrying on device_busy stays a caller
// decision.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/edgebench/edgebench/internal/protocol"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New builds a client for a server base URL, e.g. "http://board:15003".
// A zero timeout means no client-side bound; callers can still bound
// individual calls through ctx.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// NewHostPort builds a client from the host/port pair the CLI flags
// carry.
func NewHostPort(host string, port int, timeout time.Duration) *Client {
	return New(fmt.Sprintf("http://%s:%d", host, port), timeout)
}

// CompiledArtifact is a compiled bundle plus the metadata headers the
// compilation server attaches.
type CompiledArtifact struct {
	Data []byte
	Meta protocol.CompiledMeta
}

// MeasureDirect uploads an artifact to a device server and waits for
// the latency result. kind raw is the CPU path; kind compiled ships a
// bundle a compilation server produced earlier.
func (c *Client) MeasureDirect(ctx context.Context, artifact []byte, params protocol.MeasureParams) (*protocol.MeasureResult, error) {
	paramsJSON, err := protocol.EncodeJSON(params)
	if err != nil {
		return nil, err
	}
	return c.MeasureArtifact(ctx, artifact, string(paramsJSON))
}

// MeasureArtifact is MeasureDirect with a preserialized params part.
// The compilation server uses it to relay a client's params verbatim,
// leaving omitted counts to the device server's defaults.
func (c *Client) MeasureArtifact(ctx context.Context, artifact []byte, paramsJSON string) (*protocol.MeasureResult, error) {
	fields := map[string]string{}
	if paramsJSON != "" {
		fields[protocol.FieldParams] = paramsJSON
	}
	body, contentType, err := buildForm(
		[]filePart{{field: protocol.FieldArtifact, name: "artifact.bin", data: artifact}},
		fields,
	)
	if err != nil {
		return nil, err
	}

	respBody, _, err := c.post(ctx, protocol.RouteMeasure, contentType, body, protocol.KindMeasurementFailed)
	if err != nil {
		return nil, err
	}
	return decodeResult(respBody)
}

// Compile sends a model and calibration bundle to a compilation server
// and returns the compiled artifact for later direct deployment.
func (c *Client) Compile(ctx context.Context, model, calibration []byte) (*CompiledArtifact, error) {
	body, contentType, err := buildForm(
		[]filePart{
			{field: protocol.FieldModel, name: "model.onnx", data: model},
			{field: protocol.FieldCalibration, name: "calibration.zip", data: calibration},
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	respBody, header, err := c.post(ctx, protocol.RouteCompile, contentType, body, protocol.KindCompileFailed)
	if err != nil {
		return nil, err
	}
	return &CompiledArtifact{
		Data: respBody,
		Meta: protocol.CompiledMeta{
			Target:          header.Get(protocol.HeaderTarget),
			CompilerVersion: header.Get(protocol.HeaderCompilerVersion),
		},
	}, nil
}

// MeasureViaCompilation is the NPU path: the compilation server
// compiles the model and relays the device server's measurement.
func (c *Client) MeasureViaCompilation(ctx context.Context, model, calibration []byte, params protocol.MeasureParams) (*protocol.MeasureResult, error) {
	paramsJSON, err := protocol.EncodeJSON(params)
	if err != nil {
		return nil, err
	}
	return c.MeasureModel(ctx, model, calibration, string(paramsJSON))
}

// MeasureModel is MeasureViaCompilation with a preserialized params
// part, for callers that only override some of the counts and leave
// the rest to the device server's defaults.
func (c *Client) MeasureModel(ctx context.Context, model, calibration []byte, paramsJSON string) (*protocol.MeasureResult, error) {
	fields := map[string]string{}
	if paramsJSON != "" {
		fields[protocol.FieldParams] = paramsJSON
	}
	body, contentType, err := buildForm(
		[]filePart{
			{field: protocol.FieldModel, name: "model.onnx", data: model},
			{field: protocol.FieldCalibration, name: "calibration.zip", data: calibration},
		},
		fields,
	)
	if err != nil {
		return nil, err
	}

	respBody, _, err := c.post(ctx, protocol.RouteMeasure, contentType, body, protocol.KindMeasurementFailed)
	if err != nil {
		return nil, err
	}
	return decodeResult(respBody)
}

// Status asks a device server for its exclusivity state.
func (c *Client) Status(ctx context.Context) (protocol.DeviceState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+protocol.RouteStatus, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", protocol.DecodeErrorBody(resp.StatusCode, data, protocol.KindDeviceUnavailable)
	}
	status, err := protocol.DecodeJSON[protocol.StatusResponse](bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return status.State, nil
}

func (c *Client) post(ctx context.Context, route, contentType string, body io.Reader, fallback protocol.Kind) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+route, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, protocol.DecodeErrorBody(resp.StatusCode, data, fallback)
	}
	return data, resp.Header, nil
}

// transportError maps connection-level failures into the protocol
// taxonomy: an unreachable peer is device_unavailable, an exhausted
// deadline is timeout.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.NewPhaseError(protocol.KindTimeout, protocol.PhaseTimeout, "%v", err)
	}
	return protocol.NewPhaseError(protocol.KindDeviceUnavailable, protocol.PhaseTransfer, "%v", err)
}

func decodeResult(data []byte) (*protocol.MeasureResult, error) {
	result, err := protocol.DecodeJSON[protocol.MeasureResult](bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type filePart struct {
	field string
	name  string
	data  []byte
}

func buildForm(files []filePart, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			return nil, "", fmt.Errorf("form part %s: %w", f.field, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, "", fmt.Errorf("form part %s: %w", f.field, err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("form field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("finish form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

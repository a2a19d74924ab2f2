package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/edgebench/edgebench/internal/backend"
	"github.com/edgebench/edgebench/internal/device"
	"github.com/edgebench/edgebench/internal/protocol"
)

func deviceServer(t *testing.T) *Client {
	t.Helper()
	srv := device.NewServer(&backend.StubRuntime{}, device.Config{
		WorkingDir: t.TempDir(),
		Defaults:   protocol.MeasureParams{Warmup: 1, Repeat: 2, Number: 2},
	})
	e := echo.New()
	srv.Register(e)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return New(ts.URL, 0)
}

func TestMeasureDirect(t *testing.T) {
	t.Parallel()

	cl := deviceServer(t)
	res, err := cl.MeasureDirect(context.Background(), []byte("model"),
		protocol.MeasureParams{Kind: protocol.ArtifactRaw, Warmup: 1, Repeat: 2, Number: 3})
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if len(res.SamplesMs) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(res.SamplesMs))
	}
	if res.Number != 3 {
		t.Fatalf("params did not reach the server: %+v", res)
	}
}

func TestMeasureArtifactOmittedParamsUseServerDefaults(t *testing.T) {
	t.Parallel()

	cl := deviceServer(t)
	res, err := cl.MeasureArtifact(context.Background(), []byte("model"), "")
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	// Server defaults: warmup 1, repeat 2, number 2.
	if res.Repeat != 2 || res.Number != 2 {
		t.Fatalf("expected server defaults, got %+v", res)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	cl := deviceServer(t)
	state, err := cl.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state != protocol.DeviceIdle {
		t.Fatalf("expected idle, got %s", state)
	}
}

func TestRemoteErrorsSurfaceUnchanged(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		body, _ := json.Marshal(protocol.ErrorEnvelope{
			Error: protocol.NewError(protocol.KindDeviceBusy, "one job at a time"),
		})
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)

	cl := New(ts.URL, 0)
	_, err := cl.MeasureDirect(context.Background(), []byte("m"),
		protocol.MeasureParams{Kind: protocol.ArtifactRaw, Repeat: 1, Number: 1})
	if !errors.Is(err, protocol.ErrDeviceBusy) {
		t.Fatalf("expected device_busy, got %v", err)
	}
	perr := protocol.AsError(err, "")
	if perr.Message != "one job at a time" {
		t.Fatalf("message rewritten: %q", perr.Message)
	}
}

func TestUnreachableServerIsDeviceUnavailable(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // now nothing listens there

	cl := New(ts.URL, 0)
	_, err := cl.MeasureDirect(context.Background(), []byte("m"),
		protocol.MeasureParams{Kind: protocol.ArtifactRaw, Repeat: 1, Number: 1})
	if !errors.Is(err, protocol.ErrDeviceUnavailable) {
		t.Fatalf("expected device_unavailable, got %v", err)
	}
}

func TestDeadlineBecomesTimeout(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cl := New(ts.URL, 0)
	_, err := cl.MeasureDirect(ctx, []byte("m"),
		protocol.MeasureParams{Kind: protocol.ArtifactRaw, Repeat: 1, Number: 1})
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCompileDecodesMetadataHeaders(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(protocol.HeaderTarget, "tda4vm")
		w.Header().Set(protocol.HeaderCompilerVersion, "9.1")
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x50, 0x4b, 0x03, 0x04})
	}))
	t.Cleanup(ts.Close)

	cl := New(ts.URL, 0)
	artifact, err := cl.Compile(context.Background(), []byte("model"), []byte("calib"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if artifact.Meta.Target != "tda4vm" || artifact.Meta.CompilerVersion != "9.1" {
		t.Fatalf("unexpected meta: %+v", artifact.Meta)
	}
	if len(artifact.Data) != 4 {
		t.Fatalf("unexpected data: %v", artifact.Data)
	}
}

func TestNewHostPort(t *testing.T) {
	t.Parallel()

	cl := NewHostPort("board.local", 15003, time.Minute)
	if cl.BaseURL != "http://board.local:15003" {
		t.Fatalf("unexpected base url %q", cl.BaseURL)
	}
	if cl.HTTP.Timeout != time.Minute {
		t.Fatalf("timeout not applied")
	}
}

package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgebench/edgebench/internal/protocol"
)

func zipOf(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestIsZip(t *testing.T) {
	t.Parallel()

	if IsZip([]byte("not a zip")) {
		t.Fatal("plain bytes detected as zip")
	}
	data := zipOf(t, map[string][]byte{"a.txt": []byte("a")})
	if !IsZip(data) {
		t.Fatal("zip payload not detected")
	}
}

func TestExtractAndPackRoundTrip(t *testing.T) {
	t.Parallel()

	entries := map[string][]byte{
		"model.onnx":          []byte("model-bytes"),
		"subgraphs/npu_0.bin": []byte{0x01, 0x02, 0x03},
	}
	dir := t.TempDir()
	n, err := Extract(zipOf(t, entries), dir)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 files, got %d", n)
	}

	got, err := os.ReadFile(filepath.Join(dir, "subgraphs", "npu_0.bin"))
	if err != nil || !bytes.Equal(got, entries["subgraphs/npu_0.bin"]) {
		t.Fatalf("nested entry mismatch: %v", err)
	}

	packed, err := PackDir(dir)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	dir2 := t.TempDir()
	if _, err := Extract(packed, dir2); err != nil {
		t.Fatalf("re-extract: %v", err)
	}
	got2, err := os.ReadFile(filepath.Join(dir2, "model.onnx"))
	if err != nil || !bytes.Equal(got2, entries["model.onnx"]) {
		t.Fatalf("round-trip mismatch: %v", err)
	}
}

func TestExtractRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	data := zipOf(t, map[string][]byte{"../evil.txt": []byte("x")})
	if _, err := Extract(data, t.TempDir()); err == nil {
		t.Fatal("expected rejection of escaping entry")
	}
}

func TestLoadCalibrationValid(t *testing.T) {
	t.Parallel()

	bundle, err := PackSamples([]Sample{
		{Name: "sample_1.json", Tensors: map[string][]byte{"input": {1, 2, 3, 4}}},
		{Name: "sample_2.json", Tensors: map[string][]byte{"input": {5, 6, 7, 8}}},
	})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	samples, err := LoadCalibration(bundle)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if !bytes.Equal(samples[0].Tensors["input"], []byte{1, 2, 3, 4}) {
		t.Fatal("tensor bytes did not survive the round trip")
	}
}

func TestLoadCalibrationRejectsEmptyBundle(t *testing.T) {
	t.Parallel()

	_, err := LoadCalibration(zipOf(t, map[string][]byte{}))
	if !errors.Is(err, protocol.ErrInvalidCalibrationData) {
		t.Fatalf("expected invalid_calibration_data, got %v", err)
	}
}

func TestLoadCalibrationRejectsNonZip(t *testing.T) {
	t.Parallel()

	_, err := LoadCalibration([]byte("raw bytes"))
	if !errors.Is(err, protocol.ErrInvalidCalibrationData) {
		t.Fatalf("expected invalid_calibration_data, got %v", err)
	}
}

func TestLoadCalibrationRejectsAllInvalidEntries(t *testing.T) {
	t.Parallel()

	bundle := zipOf(t, map[string][]byte{
		"notes.txt":    []byte("not a sample"),
		"broken.json":  []byte("{nope"),
		"tensors.json": []byte(`{}`),
	})
	_, err := LoadCalibration(bundle)
	if !errors.Is(err, protocol.ErrInvalidCalibrationData) {
		t.Fatalf("expected invalid_calibration_data, got %v", err)
	}
}

func TestLoadCalibrationSkipsBadEntriesKeepsGood(t *testing.T) {
	t.Parallel()

	good, err := PackSamples([]Sample{{Name: "ok.json", Tensors: map[string][]byte{"x": {9}}}})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	// Rebuild with one good and one broken entry.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("broken.json")
	_, _ = w.Write([]byte("{"))
	zr, _ := zip.NewReader(bytes.NewReader(good), int64(len(good)))
	for _, f := range zr.File {
		rc, _ := f.Open()
		data, _ := io.ReadAll(rc)
		rc.Close()
		w, _ := zw.Create(f.Name)
		_, _ = w.Write(data)
	}
	_ = zw.Close()

	samples, err := LoadCalibration(buf.Bytes())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(samples) != 1 || samples[0].Name != "ok.json" {
		t.Fatalf("expected the single good sample, got %+v", samples)
	}
}

func TestWriteSamples(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := WriteSamples(dir, []Sample{{Name: "s.json", Tensors: map[string][]byte{"input": {1}}}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s.json")); err != nil {
		t.Fatalf("sample file missing: %v", err)
	}
}

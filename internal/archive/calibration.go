package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/edgebench/edgebench/internal/protocol"
)

// Sample is one calibration entry: raw tensor data keyed by the model's
// input names. Tensor bytes travel base64-encoded inside JSON entries.
type Sample struct {
	Name    string
	Tensors map[string][]byte
}

const sampleExt = ".json"

// LoadCalibration parses a calibration bundle. Entries that are not
// *.json, fail to parse, or carry no tensors are skipped; a bundle with
// zero usable samples is rejected with invalid_calibration_data before
// any compiler invocation can happen.
func LoadCalibration(data []byte) ([]Sample, error) {
	if !IsZip(data) {
		return nil, protocol.NewError(protocol.KindInvalidCalibrationData, "calibration bundle must be a zip archive")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, protocol.NewError(protocol.KindInvalidCalibrationData, "open calibration zip: %v", err)
	}

	var samples []Sample
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), sampleExt) {
			continue
		}
		sample, err := readSample(f)
		if err != nil {
			continue
		}
		samples = append(samples, sample)
	}

	if len(samples) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidCalibrationData, "calibration bundle has no usable samples")
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples, nil
}

func readSample(f *zip.File) (Sample, error) {
	rc, err := f.Open()
	if err != nil {
		return Sample{}, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return Sample{}, err
	}

	var tensors map[string][]byte
	if err := json.Unmarshal(raw, &tensors); err != nil {
		return Sample{}, err
	}
	for name, data := range tensors {
		if name == "" || len(data) == 0 {
			delete(tensors, name)
		}
	}
	if len(tensors) == 0 {
		return Sample{}, fmt.Errorf("sample %s: no tensors", f.Name)
	}
	return Sample{Name: path.Base(f.Name), Tensors: tensors}, nil
}

// WriteSamples materializes samples into dir, one JSON file each, the
// layout the compiler backend consumes.
func WriteSamples(dir string, samples []Sample) error {
	for _, s := range samples {
		data, err := json.Marshal(s.Tensors)
		if err != nil {
			return fmt.Errorf("marshal sample %s: %w", s.Name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, s.Name), data, 0o644); err != nil {
			return fmt.Errorf("write sample %s: %w", s.Name, err)
		}
	}
	return nil
}

// PackSamples builds a calibration bundle from samples, the inverse of
// LoadCalibration. Used by clients and by fake-calibration generation.
func PackSamples(samples []Sample) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, s := range samples {
		data, err := json.Marshal(s.Tensors)
		if err != nil {
			return nil, fmt.Errorf("marshal sample %s: %w", s.Name, err)
		}
		w, err := zw.Create(s.Name)
		if err != nil {
			return nil, fmt.Errorf("add sample %s: %w", s.Name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("pack sample %s: %w", s.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish calibration zip: %w", err)
	}
	return buf.Bytes(), nil
}
